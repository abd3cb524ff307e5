package analyses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devin-backend/internal/devin"
	"devin-backend/internal/shared/metrics"
	"devin-backend/internal/shared/telemetry"
)

const (
	DefaultPollInterval = 15 * time.Second

	storeWriteTimeout = 10 * time.Second

	noPlanSentinel = "No plan was generated."
	stoppedMessage = "Session was stopped before completion."
)

// Job is one session a poller drives to a terminal state.
type Job struct {
	Key       Key
	Lifecycle Lifecycle
	SessionID string
}

func (j Job) TaskName() string {
	return string(j.Lifecycle) + ":" + j.SessionID
}

// Poller is the only writer that moves a lifecycle out of pending or analyzing.
type Poller struct {
	Repo    Repo
	Gateway devin.Gateway
	// Interval between fetches; defaults to DefaultPollInterval.
	Interval time.Duration
	// MaxDuration fails the lifecycle once exceeded. Zero polls forever.
	MaxDuration time.Duration
	Now         func() time.Time
}

func (p *Poller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Poller) interval() time.Duration {
	if p.Interval <= 0 {
		return DefaultPollInterval
	}
	return p.Interval
}

// Run polls job's session until it is terminal, the deadline passes, the record stops
// belonging to the session, or ctx is cancelled. It never panics.
func (p *Poller) Run(ctx context.Context, job Job) {
	startedAt := p.now()
	defer metrics.PollerStarted(string(job.Lifecycle))()

	fields := jobFields(ctx, job)
	telemetry.Info("poller.started", fields)

	defer func() {
		if rec := recover(); rec != nil {
			p.fail(ctx, job, startedAt, fmt.Errorf("panic: %v", rec))
			p.terminate(ctx, job)
		}
	}()

	if err := p.Repo.UpdateLifecycle(ctx, job.Key, job.Lifecycle, job.SessionID, LifecycleUpdate{Status: StatusAnalyzing}); err != nil {
		if p.abandoned(ctx, job, err) {
			return
		}
		p.fail(ctx, job, startedAt, fmt.Errorf("mark analyzing: %w", err))
		return
	}

	timer := time.NewTimer(p.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			telemetry.Info("poller.cancelled", fields)
			return
		case <-timer.C:
		}

		if p.MaxDuration > 0 && p.now().Sub(startedAt) > p.MaxDuration {
			p.timeout(ctx, job, startedAt)
			return
		}

		session, err := p.Gateway.GetSession(ctx, job.SessionID)
		if err != nil {
			if ctx.Err() != nil {
				telemetry.Info("poller.cancelled", fields)
				return
			}
			metrics.IncPollError(string(job.Lifecycle))
			warn := jobFields(ctx, job)
			warn["error"] = err
			telemetry.Warn("poller.fetch_failed", warn)
			timer.Reset(p.interval())
			continue
		}

		switch {
		case session.Terminal():
			p.complete(ctx, job, startedAt, session)
			return
		case session.StatusEnum == devin.StatusStopped:
			p.stopped(ctx, job, startedAt)
			return
		}
		timer.Reset(p.interval())
	}
}

func (p *Poller) complete(ctx context.Context, job Job, startedAt time.Time, session devin.Session) {
	text, _ := devin.ExtractFinalMessage(session.Transcript())

	upd := LifecycleUpdate{Status: StatusCompleted}
	if job.Lifecycle == LifecycleFix {
		upd.PRURL = devin.ParsePullRequestURL(text)
	} else {
		plan, confidence := devin.ParsePlan(text)
		if plan == nil || *plan == "" {
			sentinel := noPlanSentinel
			plan = &sentinel
		}
		upd.Plan = plan
		upd.ConfidenceScore = confidence
	}

	// the result must land even if the poller is being cancelled
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	err := p.Repo.UpdateLifecycle(writeCtx, job.Key, job.Lifecycle, job.SessionID, upd)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, ErrNoActiveSession):
			p.abandoned(ctx, job, err)
			p.terminate(ctx, job)
		case p.fail(ctx, job, startedAt, err):
			p.terminate(ctx, job)
		}
		// otherwise the lifecycle stays in flight and the session is kept for a resumed poller
		return
	}

	p.terminate(ctx, job)
	metrics.ObserveSessionFinished(string(job.Lifecycle), string(StatusCompleted), p.now().Sub(startedAt))
	fields := jobFields(ctx, job)
	fields["status"] = StatusCompleted
	telemetry.Info("poller.completed", fields)
}

// stopped sessions are already dead remotely; nothing to terminate.
func (p *Poller) stopped(ctx context.Context, job Job, startedAt time.Time) {
	p.finishFailed(ctx, job, startedAt, stoppedMessage)
}

// terminate is best effort and survives a misbehaving gateway.
func (p *Poller) terminate(ctx context.Context, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			fields := jobFields(ctx, job)
			fields["error"] = fmt.Sprintf("panic: %v", rec)
			telemetry.Error("poller.terminate_failed", fields)
		}
	}()
	p.Gateway.TerminateSession(context.WithoutCancel(ctx), job.SessionID)
}

func (p *Poller) timeout(ctx context.Context, job Job, startedAt time.Time) {
	msg := fmt.Sprintf("Session did not finish within %s.", p.MaxDuration)
	if p.finishFailed(ctx, job, startedAt, msg) {
		p.terminate(ctx, job)
	}
}

// fail records an unexpected error as the lifecycle's failure reason.
// It reports whether the failure was persisted.
func (p *Poller) fail(ctx context.Context, job Job, startedAt time.Time, cause error) bool {
	fields := jobFields(ctx, job)
	fields["error"] = cause
	telemetry.Error("poller.error", fields)
	return p.finishFailed(ctx, job, startedAt, fmt.Sprintf("Error during %s: %v", job.Lifecycle, cause))
}

func (p *Poller) finishFailed(ctx context.Context, job Job, startedAt time.Time, msg string) bool {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()

	err := p.Repo.UpdateLifecycle(writeCtx, job.Key, job.Lifecycle, job.SessionID, LifecycleUpdate{
		Status: StatusFailed,
		Error:  &msg,
	})
	fields := jobFields(ctx, job)
	fields["reason"] = msg
	if err != nil {
		if !errors.Is(err, ErrNoActiveSession) {
			fields["error"] = err
			telemetry.Error("poller.persist_failed", fields)
		}
		return false
	}
	metrics.ObserveSessionFinished(string(job.Lifecycle), string(StatusFailed), p.now().Sub(startedAt))
	telemetry.Info("poller.failed", fields)
	return true
}

// abandoned reports whether err means the poller no longer owns the lifecycle.
func (p *Poller) abandoned(ctx context.Context, job Job, err error) bool {
	if !errors.Is(err, ErrNoActiveSession) && ctx.Err() == nil {
		return false
	}
	fields := jobFields(ctx, job)
	fields["error"] = err
	telemetry.Info("poller.abandoned", fields)
	return true
}

func jobFields(ctx context.Context, job Job) map[string]any {
	fields := map[string]any{
		"repository": job.Key.Repository,
		"issue_id":   job.Key.IssueID,
		"lifecycle":  job.Lifecycle,
		"session_id": job.SessionID,
	}
	if id := requestIDFromContext(ctx); id != "" {
		fields["request_id"] = id
	}
	return fields
}

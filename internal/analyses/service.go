package analyses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"devin-backend/internal/devin"
	"devin-backend/internal/shared/metrics"
	"devin-backend/internal/shared/telemetry"
	"devin-backend/internal/tasks"
)

// Service coordinates task starts, status reads and deletion.
type Service struct {
	Repo    Repo
	Gateway devin.Gateway
	Poller  *Poller
	Tasks   *tasks.Registry

	flight singleflight.Group
}

// NewService wires a Service and its Poller.
func NewService(repo Repo, gateway devin.Gateway, poller *Poller, registry *tasks.Registry) *Service {
	if poller == nil {
		poller = &Poller{}
	}
	if poller.Repo == nil {
		poller.Repo = repo
	}
	if poller.Gateway == nil {
		poller.Gateway = gateway
	}
	if registry == nil {
		registry = tasks.NewRegistry()
	}
	return &Service{Repo: repo, Gateway: gateway, Poller: poller, Tasks: registry}
}

// StartAnalysis creates an analysis session for key unless one is already in flight.
func (s *Service) StartAnalysis(ctx context.Context, key Key, issueTitle string) (StartResult, error) {
	if err := key.Validate(); err != nil {
		return StartResult{}, err
	}
	return s.start(ctx, key, LifecycleAnalysis, func() string {
		return devin.BuildAnalyzePrompt(key.Repository, key.IssueID, issueTitle)
	})
}

// StartFix creates a fix session implementing plan unless one is already in flight.
func (s *Service) StartFix(ctx context.Context, key Key, issueTitle, plan string) (StartResult, error) {
	if err := key.Validate(); err != nil {
		return StartResult{}, err
	}
	if strings.TrimSpace(plan) == "" {
		return StartResult{}, ErrPlanRequired
	}
	return s.start(ctx, key, LifecycleFix, func() string {
		return devin.BuildFixPrompt(key.Repository, key.IssueID, issueTitle, plan)
	})
}

// startTimeout bounds one shared start: lookup, remote create and persist.
const startTimeout = time.Minute

type startOutcome struct {
	result StartResult
	owner  *byte
}

func (s *Service) start(ctx context.Context, key Key, lc Lifecycle, prompt func() string) (StartResult, error) {
	owner := new(byte)
	v, err, _ := s.flight.Do(string(lc)+"|"+key.String(), func() (any, error) {
		// collapsed callers share this call, so it must not die with the first caller
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), startTimeout)
		defer cancel()
		res, err := s.startOnce(sharedCtx, key, lc, prompt)
		return startOutcome{result: res, owner: owner}, err
	})
	if err != nil {
		return StartResult{}, err
	}
	out := v.(startOutcome)
	res := out.result
	if out.owner != owner && res.Created {
		// collapsed into another caller's start
		res.Created = false
		metrics.IncSessionDeduplicated(string(lc))
	}
	return res, nil
}

func (s *Service) startOnce(ctx context.Context, key Key, lc Lifecycle, prompt func() string) (StartResult, error) {
	rec, err := s.Repo.Get(ctx, key)
	switch {
	case err == nil:
		if sessionID, status := rec.Session(lc); status.InFlight() {
			metrics.IncSessionDeduplicated(string(lc))
			return existingResult(rec, lc, sessionID, status), nil
		}
	case errors.Is(err, ErrNotFound):
	default:
		return StartResult{}, fmt.Errorf("load record: %w", err)
	}

	created, err := s.Gateway.CreateSession(ctx, prompt())
	if err != nil {
		return StartResult{}, err
	}
	metrics.IncSessionCreated(string(lc))

	if err := s.Repo.StartSession(ctx, key, lc, created.SessionID, created.URL); err != nil {
		// the remote session we just made has no owner now
		s.Gateway.TerminateSession(context.WithoutCancel(ctx), created.SessionID)
		if !errors.Is(err, ErrInFlight) {
			return StartResult{}, fmt.Errorf("persist session: %w", err)
		}
		winner, gerr := s.Repo.Get(ctx, key)
		if gerr != nil {
			return StartResult{}, fmt.Errorf("load record: %w", gerr)
		}
		metrics.IncSessionDeduplicated(string(lc))
		sessionID, status := winner.Session(lc)
		return existingResult(winner, lc, sessionID, status), nil
	}

	job := Job{Key: key, Lifecycle: lc, SessionID: created.SessionID}
	s.launch(ctx, job)
	telemetry.Info("analyses.session_started", jobFields(ctx, job))

	return StartResult{
		SessionID: created.SessionID,
		Status:    StatusPending,
		DevinURL:  created.URL,
		Created:   true,
	}, nil
}

func existingResult(rec Record, lc Lifecycle, sessionID string, status Status) StartResult {
	return StartResult{SessionID: sessionID, Status: status, DevinURL: rec.DevinURL(lc)}
}

func (s *Service) launch(ctx context.Context, job Job) {
	requestID := requestIDFromContext(ctx)
	err := s.Tasks.Go(job.TaskName(), func(taskCtx context.Context) {
		s.Poller.Run(withRequestID(taskCtx, requestID), job)
	})
	if err != nil && !errors.Is(err, tasks.ErrTaskExists) {
		// the record stays in flight and is picked up by Resume on the next boot
		fields := jobFields(ctx, job)
		fields["error"] = err
		telemetry.Error("analyses.poller_not_started", fields)
	}
}

// GetStatus returns the analysis lifecycle view, with status not_found when absent.
func (s *Service) GetStatus(ctx context.Context, key Key) (AnalysisView, error) {
	view := AnalysisView{GithubURL: key.Repository, IssueID: key.IssueID, Status: StatusNotFound}
	rec, err := s.Repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return view, nil
		}
		return AnalysisView{}, err
	}
	if rec.AnalysisStatus == "" {
		return view, nil
	}
	view.SessionID = rec.AnalysisSessionID
	view.Status = rec.AnalysisStatus
	view.Plan = rec.Plan
	view.ConfidenceScore = rec.ConfidenceScore
	view.Error = rec.AnalysisError
	view.DevinURL = rec.AnalysisDevinURL
	view.CreatedAt = &rec.CreatedAt
	view.UpdatedAt = &rec.UpdatedAt
	return view, nil
}

// GetFixStatus returns the fix lifecycle view, with status not_found when absent.
func (s *Service) GetFixStatus(ctx context.Context, key Key) (FixView, error) {
	view := FixView{GithubURL: key.Repository, IssueID: key.IssueID, Status: StatusNotFound}
	rec, err := s.Repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return view, nil
		}
		return FixView{}, err
	}
	if rec.FixStatus == "" {
		return view, nil
	}
	view.SessionID = rec.FixSessionID
	view.Status = rec.FixStatus
	view.PRURL = rec.PRURL
	view.Error = rec.FixError
	view.DevinURL = rec.FixDevinURL
	view.CreatedAt = &rec.CreatedAt
	view.UpdatedAt = &rec.UpdatedAt
	return view, nil
}

// Delete removes the record for key, stops its pollers and terminates live sessions.
func (s *Service) Delete(ctx context.Context, key Key) error {
	rec, err := s.Repo.Delete(ctx, key)
	if err != nil {
		return err
	}

	for _, lc := range []Lifecycle{LifecycleAnalysis, LifecycleFix} {
		sessionID, status := rec.Session(lc)
		if sessionID == "" || !status.InFlight() {
			continue
		}
		name := Job{Key: key, Lifecycle: lc, SessionID: sessionID}.TaskName()
		s.Tasks.Cancel(name)
		err := s.Tasks.Go("terminate:"+name, func(taskCtx context.Context) {
			s.Gateway.TerminateSession(taskCtx, sessionID)
		})
		if err != nil {
			// registry is closed or busy; the row is gone so this is the last chance
			telemetry.Warn("analyses.terminate_inline", map[string]any{
				"session_id": sessionID,
				"lifecycle":  string(lc),
				"error":      err,
			})
			s.Gateway.TerminateSession(context.WithoutCancel(ctx), sessionID)
		}
	}
	telemetry.Info("analyses.deleted", map[string]any{
		"repository": key.Repository,
		"issue_id":   key.IssueID,
	})
	return nil
}

// InFlight lists records that still have a live lifecycle.
func (s *Service) InFlight(ctx context.Context) ([]Record, error) {
	return s.Repo.ListInFlight(ctx)
}

// Resume re-attaches pollers to every in-flight lifecycle, typically at boot.
func (s *Service) Resume(ctx context.Context) (int, error) {
	records, err := s.Repo.ListInFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("list in-flight: %w", err)
	}
	resumed := 0
	for _, rec := range records {
		for _, lc := range []Lifecycle{LifecycleAnalysis, LifecycleFix} {
			sessionID, status := rec.Session(lc)
			if sessionID == "" || !status.InFlight() {
				continue
			}
			job := Job{Key: rec.Key(), Lifecycle: lc, SessionID: sessionID}
			if s.Tasks.Running(job.TaskName()) {
				continue
			}
			s.launch(ctx, job)
			resumed++
		}
	}
	if resumed > 0 {
		telemetry.Info("analyses.resumed", map[string]any{"pollers": resumed})
	}
	return resumed, nil
}

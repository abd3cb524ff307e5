package analyses

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo stores records in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu    sync.RWMutex
	byKey map[Key]Record
	now   func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byKey: make(map[Key]Record),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepo) Get(ctx context.Context, key Key) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byKey[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (r *MemoryRepo) StartSession(ctx context.Context, key Key, lc Lifecycle, sessionID, devinURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	rec, ok := r.byKey[key]
	if !ok {
		rec = Record{Repository: key.Repository, IssueID: key.IssueID, CreatedAt: now}
	}
	if _, status := rec.Session(lc); status.InFlight() {
		return ErrInFlight
	}

	switch lc {
	case LifecycleFix:
		rec.FixSessionID = sessionID
		rec.FixDevinURL = devinURL
		rec.FixStatus = StatusPending
		rec.PRURL = nil
		rec.FixError = nil
	default:
		rec.AnalysisSessionID = sessionID
		rec.AnalysisDevinURL = devinURL
		rec.AnalysisStatus = StatusPending
		rec.Plan = nil
		rec.ConfidenceScore = nil
		rec.AnalysisError = nil
	}
	rec.UpdatedAt = laterOf(rec.UpdatedAt, now)
	r.byKey[key] = rec
	return nil
}

func (r *MemoryRepo) UpdateLifecycle(ctx context.Context, key Key, lc Lifecycle, sessionID string, upd LifecycleUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.byKey[key]
	if !ok {
		return ErrNoActiveSession
	}
	owner, status := rec.Session(lc)
	if owner != sessionID || !status.InFlight() {
		return ErrNoActiveSession
	}

	switch lc {
	case LifecycleFix:
		rec.FixStatus = upd.Status
		if upd.PRURL != nil {
			rec.PRURL = copyString(upd.PRURL)
		}
		if upd.Error != nil {
			rec.FixError = copyString(upd.Error)
		}
	default:
		rec.AnalysisStatus = upd.Status
		if upd.Plan != nil {
			rec.Plan = copyString(upd.Plan)
		}
		if upd.ConfidenceScore != nil {
			score := *upd.ConfidenceScore
			rec.ConfidenceScore = &score
		}
		if upd.Error != nil {
			rec.AnalysisError = copyString(upd.Error)
		}
	}
	rec.UpdatedAt = laterOf(rec.UpdatedAt, r.now())
	r.byKey[key] = rec
	return nil
}

func (r *MemoryRepo) Delete(ctx context.Context, key Key) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byKey[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	delete(r.byKey, key)
	return cloneRecord(rec), nil
}

func (r *MemoryRepo) ListInFlight(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Record, 0)
	for _, rec := range r.byKey {
		if rec.AnalysisStatus.InFlight() || rec.FixStatus.InFlight() {
			out = append(out, cloneRecord(rec))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Repository != out[j].Repository {
			return out[i].Repository < out[j].Repository
		}
		return out[i].IssueID < out[j].IssueID
	})
	return out, nil
}

func (r *MemoryRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}

func laterOf(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneRecord(rec Record) Record {
	out := rec
	out.Plan = copyString(rec.Plan)
	out.AnalysisError = copyString(rec.AnalysisError)
	out.PRURL = copyString(rec.PRURL)
	out.FixError = copyString(rec.FixError)
	if rec.ConfidenceScore != nil {
		score := *rec.ConfidenceScore
		out.ConfidenceScore = &score
	}
	return out
}

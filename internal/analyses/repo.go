package analyses

import "context"

// Repo persists one record per key. Writes that move a lifecycle are conditional so a stale
// poller or a racing start can never overwrite newer state.
type Repo interface {
	Get(ctx context.Context, key Key) (Record, error)
	// StartSession upserts the record and resets lc to pending with the new session, clearing
	// that lifecycle's results. It fails with ErrInFlight if lc is pending or analyzing.
	StartSession(ctx context.Context, key Key, lc Lifecycle, sessionID, devinURL string) error
	// UpdateLifecycle applies upd only while sessionID owns lc and lc is not terminal,
	// failing with ErrNoActiveSession otherwise.
	UpdateLifecycle(ctx context.Context, key Key, lc Lifecycle, sessionID string, upd LifecycleUpdate) error
	// Delete removes the record and both lifecycles and returns the removed row,
	// or fails with ErrNotFound.
	Delete(ctx context.Context, key Key) (Record, error)
	// ListInFlight returns records with at least one lifecycle pending or analyzing.
	ListInFlight(ctx context.Context) ([]Record, error)
	Ping(ctx context.Context) error
}

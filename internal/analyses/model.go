package analyses

import (
	"fmt"
	"strings"
	"time"
)

// Status is the state of one lifecycle on a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"

	// StatusNotFound is reported by reads when the record or lifecycle does not exist.
	StatusNotFound Status = "not_found"
)

// InFlight reports whether a poller still owns the lifecycle.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusAnalyzing
}

// Terminal reports whether the lifecycle has finished.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Lifecycle selects one of the two independent state machines on a record.
type Lifecycle string

const (
	LifecycleAnalysis Lifecycle = "analysis"
	LifecycleFix      Lifecycle = "fix"
)

func (l Lifecycle) Valid() bool {
	return l == LifecycleAnalysis || l == LifecycleFix
}

// Key identifies a record.
type Key struct {
	Repository string
	IssueID    int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Repository, k.IssueID)
}

// Validate checks the key is usable.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Repository) == "" {
		return fmt.Errorf("%w: github_url is required", ErrInvalidKey)
	}
	if k.IssueID <= 0 {
		return fmt.Errorf("%w: issue_id must be positive", ErrInvalidKey)
	}
	return nil
}

// Record is the persisted state for one (repository, issue) pair.
type Record struct {
	Repository string
	IssueID    int64

	AnalysisSessionID string
	AnalysisDevinURL  string
	AnalysisStatus    Status
	Plan              *string
	ConfidenceScore   *int
	AnalysisError     *string

	FixSessionID string
	FixDevinURL  string
	FixStatus    Status
	PRURL        *string
	FixError     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r Record) Key() Key {
	return Key{Repository: r.Repository, IssueID: r.IssueID}
}

// Session returns the session id and status of a lifecycle.
func (r Record) Session(lc Lifecycle) (string, Status) {
	if lc == LifecycleFix {
		return r.FixSessionID, r.FixStatus
	}
	return r.AnalysisSessionID, r.AnalysisStatus
}

// DevinURL returns the remote session URL of a lifecycle.
func (r Record) DevinURL(lc Lifecycle) string {
	if lc == LifecycleFix {
		return r.FixDevinURL
	}
	return r.AnalysisDevinURL
}

// LifecycleUpdate is a partial write to one lifecycle. Nil pointers leave columns unchanged.
type LifecycleUpdate struct {
	Status          Status
	Plan            *string
	ConfidenceScore *int
	PRURL           *string
	Error           *string
}

// AnalysisView is what status reads return for the analysis lifecycle.
type AnalysisView struct {
	GithubURL       string     `json:"github_url"`
	IssueID         int64      `json:"issue_id"`
	SessionID       string     `json:"session_id,omitempty"`
	Status          Status     `json:"status"`
	Plan            *string    `json:"plan"`
	ConfidenceScore *int       `json:"confidence_score"`
	Error           *string    `json:"error,omitempty"`
	DevinURL        string     `json:"devin_url,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

// FixView is what status reads return for the fix lifecycle.
type FixView struct {
	GithubURL string     `json:"github_url"`
	IssueID   int64      `json:"issue_id"`
	SessionID string     `json:"fix_session_id,omitempty"`
	Status    Status     `json:"fix_status"`
	PRURL     *string    `json:"pr_url"`
	Error     *string    `json:"error,omitempty"`
	DevinURL  string     `json:"fix_devin_url,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// StartResult reports the outcome of a task start.
type StartResult struct {
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`
	DevinURL  string `json:"devin_url"`
	// Created is false when the start collapsed into a session already in flight.
	Created bool `json:"-"`
}

package health

import (
	"context"
	"time"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Report is the health payload.
type Report struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Store   string `json:"store,omitempty"`
}

// Service encapsulates health-related checks.
type Service struct {
	Store   Pinger
	Timeout time.Duration
}

// NewService constructs a new health service. store may be nil.
func NewService(store Pinger) *Service {
	return &Service{Store: store, Timeout: 2 * time.Second}
}

// Status returns the health payload and whether every dependency answered.
func (s *Service) Status(ctx context.Context) (Report, bool) {
	report := Report{Message: "devin-backend is running", Status: StatusHealthy}
	if s == nil || s.Store == nil {
		return report, true
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()
	if err := s.Store.Ping(pingCtx); err != nil {
		report.Status = StatusDegraded
		report.Store = err.Error()
		return report, false
	}
	report.Store = "ok"
	return report, true
}

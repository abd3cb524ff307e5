package analyses

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"devin-backend/internal/devin"
	"devin-backend/internal/tasks"
)

type pollStep struct {
	session devin.Session
	err     error
	panic   string
}

// fakeGateway scripts remote behaviour. Each session replays its steps, repeating the last.
type fakeGateway struct {
	mu         sync.Mutex
	seq        int
	created    []string
	prompts    []string
	terminated []string
	steps      map[string][]pollStep
	fetches    map[string]int
	createErr  error
	// onCreate runs before CreateSession returns.
	onCreate func(sessionID string)
	// defaultSteps applies to sessions without an explicit script.
	defaultSteps []pollStep
	// onFetch runs inside GetSession before the step is returned.
	onFetch func(sessionID string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		steps:   make(map[string][]pollStep),
		fetches: make(map[string]int),
	}
}

func (g *fakeGateway) script(sessionID string, steps ...pollStep) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.steps[sessionID] = steps
}

func (g *fakeGateway) CreateSession(ctx context.Context, prompt string) (devin.CreatedSession, error) {
	g.mu.Lock()
	if g.createErr != nil {
		err := g.createErr
		g.mu.Unlock()
		return devin.CreatedSession{}, err
	}
	g.seq++
	id := fmt.Sprintf("devin-%d", g.seq)
	g.created = append(g.created, id)
	g.prompts = append(g.prompts, prompt)
	hook := g.onCreate
	g.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return devin.CreatedSession{SessionID: id, URL: "https://app.devin.ai/sessions/" + id}, nil
}

func (g *fakeGateway) GetSession(ctx context.Context, sessionID string) (devin.Session, error) {
	g.mu.Lock()
	steps, ok := g.steps[sessionID]
	if !ok {
		steps = g.defaultSteps
	}
	i := g.fetches[sessionID]
	g.fetches[sessionID] = i + 1
	hook := g.onFetch
	g.mu.Unlock()

	if hook != nil {
		hook(sessionID)
	}

	if len(steps) == 0 {
		return devin.Session{SessionID: sessionID, StatusEnum: devin.StatusWorking}, nil
	}
	if i >= len(steps) {
		i = len(steps) - 1
	}
	step := steps[i]
	if step.panic != "" {
		panic(step.panic)
	}
	if step.err != nil {
		return devin.Session{}, step.err
	}
	s := step.session
	s.SessionID = sessionID
	return s, nil
}

func (g *fakeGateway) TerminateSession(ctx context.Context, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terminated = append(g.terminated, sessionID)
}

func (g *fakeGateway) createdCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.created)
}

func (g *fakeGateway) wasTerminated(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, id := range g.terminated {
		if id == sessionID {
			return true
		}
	}
	return false
}

func (g *fakeGateway) fetchCount(sessionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches[sessionID]
}

func working() pollStep {
	return pollStep{session: devin.Session{StatusEnum: devin.StatusWorking}}
}

func remoteStatus(status string, msgs ...devin.Message) pollStep {
	return pollStep{session: devin.Session{StatusEnum: status, Messages: msgs}}
}

func agentSays(text string) devin.Message {
	return devin.Message{Type: devin.MessageTypeAgent, Message: text}
}

// recordingRepo remembers every status written and can inject failures.
type recordingRepo struct {
	Repo
	mu       sync.Mutex
	statuses []Status
	failOn   Status
}

func (r *recordingRepo) UpdateLifecycle(ctx context.Context, key Key, lc Lifecycle, sessionID string, upd LifecycleUpdate) error {
	r.mu.Lock()
	r.statuses = append(r.statuses, upd.Status)
	failOn := r.failOn
	r.mu.Unlock()
	if failOn != "" && upd.Status == failOn {
		return fmt.Errorf("disk full")
	}
	return r.Repo.UpdateLifecycle(ctx, key, lc, sessionID, upd)
}

func (r *recordingRepo) written() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

var testKey = Key{Repository: "https://github.com/acme/widgets", IssueID: 42}

func fastPoller(repo Repo, gw devin.Gateway) *Poller {
	return &Poller{Repo: repo, Gateway: gw, Interval: 5 * time.Millisecond}
}

func newTestService(t *testing.T, repo Repo, gw devin.Gateway, interval time.Duration) *Service {
	t.Helper()
	registry := tasks.NewRegistry()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})
	return NewService(repo, gw, &Poller{Interval: interval}, registry)
}

package issues

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"

	"devin-backend/internal/shared/telemetry"
)

type listerFunc func(ctx context.Context, githubURL string) ([]Issue, error)

func (f listerFunc) ListOpen(ctx context.Context, githubURL string) ([]Issue, error) {
	return f(ctx, githubURL)
}

func serve(t *testing.T, lister Lister, target string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	telemetry.SetOutput(io.Discard)
	t.Cleanup(func() { telemetry.SetOutput(os.Stdout) })

	router := gin.New()
	h := &Handler{}
	if lister != nil {
		h = NewHandler(lister)
	}
	h.RegisterRoutes(router.Group("/api"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, target, nil))
	return resp
}

func TestListIssues(t *testing.T) {
	lister := listerFunc(func(_ context.Context, githubURL string) ([]Issue, error) {
		if githubURL != "https://github.com/acme/widgets" {
			t.Fatalf("unexpected url %q", githubURL)
		}
		return []Issue{{IssueID: 1, IssueTitle: "Bug", Labels: []Label{}}}, nil
	})
	resp := serve(t, lister, "/api/issues?github_url=https://github.com/acme/widgets")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got []Issue
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].IssueID != 1 {
		t.Fatalf("unexpected issues %+v", got)
	}
}

func TestListIssuesAPIErrorReturnsEmpty(t *testing.T) {
	lister := listerFunc(func(context.Context, string) ([]Issue, error) {
		return nil, &APIError{StatusCode: http.StatusForbidden, Body: "rate limited"}
	})
	resp := serve(t, lister, "/api/issues?github_url=https://github.com/acme/widgets")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "[]" {
		t.Fatalf("expected empty list, got %s", body)
	}
}

func TestListIssuesBadURL(t *testing.T) {
	resp := serve(t, listerFunc(func(context.Context, string) ([]Issue, error) {
		t.Fatalf("lister should not be called")
		return nil, nil
	}), "/api/issues?github_url=https://github.com/acme")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestListIssuesWithoutToken(t *testing.T) {
	resp := serve(t, nil, "/api/issues?github_url=https://github.com/acme/widgets")
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}

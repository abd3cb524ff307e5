package issues

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

const (
	requestTimeout = 20 * time.Second
	maxErrorBody   = 512
	// isoLayout renders UTC as +00:00 rather than Z.
	isoLayout = "2006-01-02T15:04:05-07:00"
)

var tracer = otel.Tracer("devin-backend/internal/issues")

// Client lists issues through the GitHub REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a token-authenticated client. An empty token is ErrNotConfigured.
func NewClient(baseURL, token string) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNotConfigured
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid GITHUB_API_BASE %q: %w", baseURL, err)
	}

	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = requestTimeout
	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

type ghUser struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

type ghIssue struct {
	Number      int64           `json:"number"`
	Title       string          `json:"title"`
	Body        *string         `json:"body"`
	State       string          `json:"state"`
	User        *ghUser         `json:"user"`
	Labels      []Label         `json:"labels"`
	CreatedAt   *time.Time      `json:"created_at"`
	Comments    int             `json:"comments"`
	PullRequest json.RawMessage `json:"pull_request"`
}

// ListOpen returns up to MaxIssues open issues, skipping pull requests.
func (c *Client) ListOpen(ctx context.Context, githubURL string) ([]Issue, error) {
	repo, err := ParseRepository(githubURL)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "github.ListOpenIssues",
		trace.WithAttributes(attribute.String("github.repository", repo.String())))
	defer span.End()

	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues?state=open&per_page=%d",
		c.baseURL, url.PathEscape(repo.Owner), url.PathEscape(repo.Name), MaxIssues)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("github build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErr := &APIError{Err: err}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}

	var raw []ghIssue
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		apiErr := &APIError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode issues: %w", err)}
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}

	out := convert(raw)
	span.SetAttributes(attribute.Int("github.issue_count", len(out)))
	return out, nil
}

func convert(raw []ghIssue) []Issue {
	if len(raw) > MaxIssues {
		raw = raw[:MaxIssues]
	}
	out := make([]Issue, 0, len(raw))
	for _, gi := range raw {
		if isPullRequest(gi.PullRequest) {
			continue
		}
		issue := Issue{
			IssueID:      gi.Number,
			IssueTitle:   gi.Title,
			State:        gi.State,
			Author:       "unknown",
			Labels:       make([]Label, 0, len(gi.Labels)),
			CommentCount: gi.Comments,
		}
		if gi.Body != nil {
			issue.Body = *gi.Body
		}
		if gi.User != nil {
			issue.Author = gi.User.Login
			issue.AuthorAvatar = gi.User.AvatarURL
		}
		if gi.CreatedAt != nil {
			issue.CreatedAt = gi.CreatedAt.Format(isoLayout)
		}
		issue.Labels = append(issue.Labels, gi.Labels...)
		out = append(out, issue)
	}
	return out
}

func isPullRequest(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

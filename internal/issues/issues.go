// Package issues lists open GitHub issues for a repository.
package issues

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultBaseURL is the public GitHub REST API.
	DefaultBaseURL = "https://api.github.com"
	// MaxIssues caps a single listing.
	MaxIssues = 100
)

var (
	ErrNotConfigured = errors.New("GITHUB_TOKEN environment variable not set")
	ErrInvalidURL    = errors.New("invalid GitHub URL")
)

// APIError is a failed or unreadable GitHub response.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("github api: status %d: %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("github api: %v", e.Err)
	default:
		return fmt.Sprintf("github api: status %d: %s", e.StatusCode, e.Body)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// Label is an issue label.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Issue is the listing shape served to the UI.
type Issue struct {
	IssueID      int64   `json:"issue_id"`
	IssueTitle   string  `json:"issue_title"`
	Body         string  `json:"body"`
	State        string  `json:"state"`
	Author       string  `json:"author"`
	AuthorAvatar string  `json:"author_avatar"`
	Labels       []Label `json:"labels"`
	CreatedAt    string  `json:"created_at"`
	CommentCount int     `json:"comment_count"`
}

// Lister fetches open issues for a repository URL.
type Lister interface {
	ListOpen(ctx context.Context, githubURL string) ([]Issue, error)
}

// Repository is an owner/name pair.
type Repository struct {
	Owner string
	Name  string
}

func (r Repository) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepository extracts owner and repo from a GitHub URL such as
// https://github.com/owner/repo or https://github.com/owner/repo/issues.
func ParseRepository(githubURL string) (Repository, error) {
	raw := strings.TrimSpace(githubURL)
	if raw == "" {
		return Repository{}, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Repository{}, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	var parts []string
	for _, p := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return Repository{}, fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return Repository{Owner: parts[0], Name: strings.TrimSuffix(parts[1], ".git")}, nil
}

package devin

import (
	"bytes"
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

	"devin-backend/internal/shared/telemetry"
)

const (
	// DefaultBaseURL is the public session API.
	DefaultBaseURL = "https://api.devin.ai/v1"

	requestTimeout = 30 * time.Second
	maxErrorBody   = 512
)

var tracer = otel.Tracer("devin-backend/internal/devin")

// Client implements Gateway over the HTTP session API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a bearer-authenticated session API client.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNotConfigured
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid DEVIN_API_BASE %q: %w", baseURL, err)
	}

	httpClient := oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: apiKey,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = requestTimeout

	return &Client{baseURL: baseURL, httpClient: httpClient}, nil
}

type createSessionRequest struct {
	Prompt string `json:"prompt"`
}

// CreateSession starts a remote session for the prompt.
func (c *Client) CreateSession(ctx context.Context, prompt string) (CreatedSession, error) {
	ctx, span := tracer.Start(ctx, "devin.CreateSession",
		trace.WithAttributes(attribute.Int("devin.prompt_bytes", len(prompt))))
	defer span.End()

	var out CreatedSession
	if err := c.do(ctx, "create session", http.MethodPost, "/sessions", createSessionRequest{Prompt: prompt}, &out); err != nil {
		recordSpanError(span, err)
		return CreatedSession{}, err
	}
	if strings.TrimSpace(out.SessionID) == "" {
		err := &RemoteError{Op: "create session", Err: fmt.Errorf("response missing session_id")}
		recordSpanError(span, err)
		return CreatedSession{}, err
	}
	span.SetAttributes(attribute.String("devin.session_id", out.SessionID))
	return out, nil
}

// GetSession fetches the current state and transcript of a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (Session, error) {
	ctx, span := tracer.Start(ctx, "devin.GetSession",
		trace.WithAttributes(attribute.String("devin.session_id", sessionID)))
	defer span.End()

	var out Session
	if err := c.do(ctx, "get session", http.MethodGet, sessionPath(sessionID), nil, &out); err != nil {
		recordSpanError(span, err)
		return Session{}, err
	}
	span.SetAttributes(attribute.String("devin.status_enum", out.StatusEnum))
	return out, nil
}

// TerminateSession asks the remote side to stop a session. Errors are only logged.
func (c *Client) TerminateSession(ctx context.Context, sessionID string) {
	ctx, span := tracer.Start(ctx, "devin.TerminateSession",
		trace.WithAttributes(attribute.String("devin.session_id", sessionID)))
	defer span.End()

	if err := c.do(ctx, "terminate session", http.MethodDelete, sessionPath(sessionID), nil, nil); err != nil {
		recordSpanError(span, err)
		telemetry.Error("devin.terminate_failed", map[string]any{
			"session_id": sessionID,
			"error":      err,
		})
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("devin %s: encode request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RemoteError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{Op: op, StatusCode: resp.StatusCode, Body: truncate(strings.TrimSpace(string(raw)), maxErrorBody)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RemoteError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func sessionPath(sessionID string) string {
	return "/sessions/" + url.PathEscape(sessionID)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Unconfigured is the gateway used when no API key is present. Reads and creates fail
// with ErrRemoteUnavailable so callers get a server error instead of a crash.
type Unconfigured struct{}

func (Unconfigured) CreateSession(ctx context.Context, prompt string) (CreatedSession, error) {
	return CreatedSession{}, &RemoteError{Op: "create session", Err: ErrNotConfigured}
}

func (Unconfigured) GetSession(ctx context.Context, sessionID string) (Session, error) {
	return Session{}, &RemoteError{Op: "get session", Err: ErrNotConfigured}
}

func (Unconfigured) TerminateSession(ctx context.Context, sessionID string) {}

// Package devin talks to the remote agent session API and interprets what the agent replies.
package devin

import (
	"context"
	"encoding/json"
)

// Remote session states reported in status_enum.
const (
	StatusWorking  = "working"
	StatusBlocked  = "blocked"
	StatusFinished = "finished"
	StatusStopped  = "stopped"
)

// MessageTypeAgent marks messages authored by the remote agent.
const MessageTypeAgent = "devin"

// Gateway abstracts the three remote session operations.
type Gateway interface {
	CreateSession(ctx context.Context, prompt string) (CreatedSession, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	// TerminateSession is best-effort; failures are logged, never returned.
	TerminateSession(ctx context.Context, sessionID string)
}

// CreatedSession identifies a freshly created remote session.
type CreatedSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Message is one transcript entry.
type Message struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Session is the fetched state of a remote session.
type Session struct {
	SessionID        string          `json:"session_id"`
	StatusEnum       string          `json:"status_enum"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
	Messages         []Message       `json:"messages"`
}

// Terminal reports whether the agent is done producing output.
func (s Session) Terminal() bool {
	return s.StatusEnum == StatusBlocked || s.StatusEnum == StatusFinished
}

// Transcript prefers messages nested under structured_output and falls back to the raw list.
func (s Session) Transcript() []Message {
	if len(s.StructuredOutput) > 0 {
		var nested struct {
			Messages []Message `json:"messages"`
		}
		if err := json.Unmarshal(s.StructuredOutput, &nested); err == nil && len(nested.Messages) > 0 {
			return nested.Messages
		}
	}
	return s.Messages
}

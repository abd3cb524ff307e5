package devin

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"
)

var (
	fenceOpen  = regexp.MustCompile("^```(?:json)?\\s*\\n?")
	fenceClose = regexp.MustCompile("\\n?```\\s*$")
)

const (
	minConfidence = 1
	maxConfidence = 10
)

// ExtractFinalMessage picks the text the agent meant as its answer: the latest agent-authored
// message, or the last message of any kind when that is empty or missing. One outer markdown
// fence is stripped. It reports false when there is nothing to read.
func ExtractFinalMessage(msgs []Message) (string, bool) {
	if len(msgs) == 0 {
		return "", false
	}

	text := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == MessageTypeAgent {
			text = msgs[i].Message
			break
		}
	}
	if text == "" {
		text = msgs[len(msgs)-1].Message
	}

	text = stripFence(strings.TrimSpace(text))
	if text == "" {
		return "", false
	}
	return text, true
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = fenceOpen.ReplaceAllString(text, "")
	text = fenceClose.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ParsePlan decodes {"plan": ..., "confidence_score": ...}. Text that is not a JSON object is
// returned whole as the plan. Confidence is kept only when it is an integer, clamped to 1..10.
func ParsePlan(text string) (*string, *int) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	fields, ok := decodeObject(text)
	if !ok {
		return &text, nil
	}

	var plan *string
	if raw, ok := fields["plan"]; ok && !isNull(raw) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			plan = &s
		} else {
			compact := compactJSON(raw)
			plan = &compact
		}
	}

	var confidence *int
	if raw, ok := fields["confidence_score"]; ok {
		if n, ok := integerLiteral(raw); ok {
			confidence = &n
		}
	}
	return plan, confidence
}

// ParsePullRequestURL decodes {"pr_url": "..."}; anything else yields nil.
func ParsePullRequestURL(text string) *string {
	fields, ok := decodeObject(strings.TrimSpace(text))
	if !ok {
		return nil
	}
	raw, ok := fields["pr_url"]
	if !ok {
		return nil
	}
	var prURL string
	if err := json.Unmarshal(raw, &prURL); err != nil {
		return nil
	}
	prURL = strings.TrimSpace(prURL)
	if prURL == "" {
		return nil
	}
	return &prURL
}

func decodeObject(text string) (map[string]json.RawMessage, bool) {
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, false
	}
	return fields, true
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// integerLiteral accepts bare JSON integers only. Out-of-range values clamp by sign.
func integerLiteral(raw json.RawMessage) (int, bool) {
	lit := string(bytes.TrimSpace(raw))
	if lit == "" || strings.ContainsAny(lit, ".eE\"") || lit == "true" || lit == "false" || lit == "null" {
		return 0, false
	}
	n, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if !errors.As(err, &numErr) || !errors.Is(numErr.Err, strconv.ErrRange) {
			return 0, false
		}
		if strings.HasPrefix(lit, "-") {
			return minConfidence, true
		}
		return maxConfidence, true
	}
	return clampConfidence(n), true
}

func clampConfidence(n int64) int {
	switch {
	case n < minConfidence:
		return minConfidence
	case n > maxConfidence:
		return maxConfidence
	default:
		return int(n)
	}
}

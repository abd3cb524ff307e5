package devin

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"strconv"
	"strings"
)

var (
	//go:embed prompts/analyze.txt
	analyzeTemplate string
	//go:embed prompts/fix.txt
	fixTemplate string
)

type planSchema struct {
	Plan            string `json:"plan"`
	ConfidenceScore int    `json:"confidence_score"`
}

var analyzeSchema = mustSchema(planSchema{
	Plan:            "A detailed, step-by-step implementation plan to resolve the issue",
	ConfidenceScore: 7,
})

const fixSchema = `{"pr_url": "https://github.com/owner/repo/pull/123"}`

func mustSchema(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
	return strings.TrimSpace(buf.String())
}

// DefaultIssueTitle is used when the caller has no title for the issue.
func DefaultIssueTitle(issueID int64) string {
	return "Issue #" + strconv.FormatInt(issueID, 10)
}

// BuildAnalyzePrompt asks the agent for a plan and a confidence score as a bare JSON object.
func BuildAnalyzePrompt(repository string, issueID int64, issueTitle string) string {
	return fill(analyzeTemplate, repository, issueID, issueTitle, "", analyzeSchema)
}

// BuildFixPrompt asks the agent to implement plan end to end and answer with the PR URL.
func BuildFixPrompt(repository string, issueID int64, issueTitle, plan string) string {
	return fill(fixTemplate, repository, issueID, issueTitle, plan, fixSchema)
}

func fill(template, repository string, issueID int64, issueTitle, plan, schema string) string {
	if strings.TrimSpace(issueTitle) == "" {
		issueTitle = DefaultIssueTitle(issueID)
	}
	replacer := strings.NewReplacer(
		"{{REPOSITORY}}", repository,
		"{{ISSUE_ID}}", strconv.FormatInt(issueID, 10),
		"{{ISSUE_TITLE}}", issueTitle,
		"{{PLAN}}", plan,
		"{{SCHEMA}}", schema,
	)
	return strings.TrimSpace(replacer.Replace(template))
}

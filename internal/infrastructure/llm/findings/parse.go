// Package findings turns model output into compliance results. It is shared
// by the cloud and local providers.
package findings

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

var ErrMissingIssues = errors.New("response has no issues array")

// Options identify the call that produced a response.
type Options struct {
	IDPrefix   string
	SessionID  string
	DocumentID string
	Model      string
	Now        time.Time
}

type rawResponse struct {
	OverallStatus string      `json:"overall_status"`
	Status        string      `json:"status"`
	OverallScore  *float64    `json:"overall_score"`
	Issues        *[]rawIssue `json:"issues"`
}

type rawIssue struct {
	Severity    string   `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Remediation string   `json:"remediation"`
	Confidence  *float64 `json:"confidence"`
	Regulation  struct {
		Regulation string `json:"regulation"`
		Section    string `json:"section"`
		Title      string `json:"title"`
		URL        string `json:"url"`
	} `json:"regulation"`
	Location *domain.DocumentLocation `json:"location"`
}

// ExtractJSON isolates the JSON object in a model reply. A fenced ```json
// block wins; otherwise the span from the first '{' to the last '}'.
func ExtractJSON(raw string) string {
	const fence = "```json"
	if idx := strings.Index(raw, fence); idx >= 0 {
		rest := raw[idx+len(fence):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}

// Parse decodes a model reply into results. Score and status fall back to
// the shared penalty model when the model omits them.
func Parse(raw string, opts Options) (*domain.ComplianceResults, error) {
	var resp rawResponse
	if err := json.Unmarshal([]byte(ExtractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("decode model json: %w", err)
	}
	if resp.Issues == nil {
		return nil, ErrMissingIssues
	}

	issues := make([]domain.ComplianceIssue, 0, len(*resp.Issues))
	for i, item := range *resp.Issues {
		issues = append(issues, convertIssue(item, fmt.Sprintf("%s_%s_%d", opts.IDPrefix, opts.DocumentID, i)))
	}

	summary := domain.Summarize(issues, 0)
	score, status := domain.ScoreIssues(summary)
	if resp.OverallScore != nil {
		score = *resp.OverallScore
	}
	summary = domain.Summarize(issues, score)

	reported := resp.OverallStatus
	if reported == "" {
		reported = resp.Status
	}
	if reported != "" {
		status = domain.ParseComplianceStatus(reported)
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return &domain.ComplianceResults{
		ID:          fmt.Sprintf("%s_%s_%d", opts.IDPrefix, opts.DocumentID, now.Unix()),
		SessionID:   opts.SessionID,
		DocumentID:  opts.DocumentID,
		Status:      status,
		Issues:      issues,
		Summary:     summary,
		GeneratedAt: now,
		AIModel:     opts.Model,
		Metadata:    map[string]any{},
	}, nil
}

func convertIssue(item rawIssue, id string) domain.ComplianceIssue {
	confidence := 0.5
	if item.Confidence != nil {
		confidence = *item.Confidence
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "Issue"
	}

	return domain.ComplianceIssue{
		ID:          id,
		Severity:    domain.ParseSeverity(item.Severity),
		Title:       title,
		Description: strings.TrimSpace(item.Description),
		Regulation: domain.RegulatoryReference{
			Regulation: orNA(item.Regulation.Regulation),
			Section:    orNA(item.Regulation.Section),
			Title:      orNA(item.Regulation.Title),
			URL:        item.Regulation.URL,
		},
		Location:    item.Location,
		Remediation: strings.TrimSpace(item.Remediation),
		Confidence:  confidence,
	}
}

func orNA(value string) string {
	if strings.TrimSpace(value) == "" {
		return "N/A"
	}
	return strings.TrimSpace(value)
}

// Merge concatenates stage findings into one result and rescores it.
func Merge(base *domain.ComplianceResults, stages ...*domain.ComplianceResults) *domain.ComplianceResults {
	merged := *base
	merged.Issues = append([]domain.ComplianceIssue(nil), base.Issues...)
	for _, stage := range stages {
		if stage == nil {
			continue
		}
		merged.Issues = append(merged.Issues, stage.Issues...)
	}

	summary := domain.Summarize(merged.Issues, 0)
	score, status := domain.ScoreIssues(summary)
	merged.Summary = domain.Summarize(merged.Issues, score)
	merged.Status = status
	return &merged
}

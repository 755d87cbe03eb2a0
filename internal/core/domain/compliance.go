package domain

import (
	"fmt"
	"time"
)

type ComplianceStatus string

const (
	CompliancePass    ComplianceStatus = "pass"
	ComplianceFail    ComplianceStatus = "fail"
	ComplianceWarning ComplianceStatus = "warning"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// ParseSeverity maps free-form model output onto the three known tiers.
func ParseSeverity(raw string) Severity {
	switch Severity(normalizeToken(raw)) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityWarning:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// ParseComplianceStatus falls back to warning for anything unrecognised.
func ParseComplianceStatus(raw string) ComplianceStatus {
	switch ComplianceStatus(normalizeToken(raw)) {
	case CompliancePass:
		return CompliancePass
	case ComplianceFail:
		return ComplianceFail
	default:
		return ComplianceWarning
	}
}

const DefaultPassThreshold = 80.0

type RegulatoryReference struct {
	Regulation string `json:"regulation" yaml:"regulation"`
	Section    string `json:"section" yaml:"section"`
	Title      string `json:"title" yaml:"title"`
	URL        string `json:"url,omitempty" yaml:"url"`
}

type DocumentLocation struct {
	Page    int    `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
	Line    int    `json:"line,omitempty"`
	Context string `json:"context,omitempty"`
}

type ComplianceIssue struct {
	ID          string              `json:"id"`
	Severity    Severity            `json:"severity"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Regulation  RegulatoryReference `json:"regulation"`
	Location    *DocumentLocation   `json:"location,omitempty"`
	Remediation string              `json:"remediation,omitempty"`
	Confidence  float64             `json:"confidence"`
}

type ComplianceSummary struct {
	TotalIssues   int     `json:"total_issues"`
	CriticalCount int     `json:"critical_count"`
	WarningCount  int     `json:"warning_count"`
	InfoCount     int     `json:"info_count"`
	OverallScore  float64 `json:"overall_score"`
	PassThreshold float64 `json:"pass_threshold"`
}

type ComplianceResults struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"session_id"`
	DocumentID     string            `json:"document_id"`
	Status         ComplianceStatus  `json:"status"`
	Issues         []ComplianceIssue `json:"issues"`
	Summary        ComplianceSummary `json:"summary"`
	GeneratedAt    time.Time         `json:"generated_at"`
	AIModel        string            `json:"ai_model"`
	ProcessingTime float64           `json:"processing_time"`
	Metadata       map[string]any    `json:"metadata"`
}

// Summarize counts issues by severity. Score is left to the caller.
func Summarize(issues []ComplianceIssue, score float64) ComplianceSummary {
	summary := ComplianceSummary{
		TotalIssues:   len(issues),
		OverallScore:  clampScore(score),
		PassThreshold: DefaultPassThreshold,
	}
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			summary.CriticalCount++
		case SeverityWarning:
			summary.WarningCount++
		default:
			summary.InfoCount++
		}
	}
	return summary
}

// ScoreIssues applies the penalty model shared by the simulated and merged
// multi-stage results: 85 minus 15/8/2 per critical/warning/info, floored at 20.
func ScoreIssues(summary ComplianceSummary) (float64, ComplianceStatus) {
	score := 85.0 - float64(summary.CriticalCount*15+summary.WarningCount*8+summary.InfoCount*2)
	if score < 20 {
		score = 20
	}
	switch {
	case summary.CriticalCount > 0 || score < 60:
		return score, ComplianceFail
	case summary.WarningCount > 0 || score < DefaultPassThreshold:
		return score, ComplianceWarning
	default:
		return score, CompliancePass
	}
}

// NewFailedResults builds the placeholder stored for a terminally failed
// session so result lookups always return a well-formed record.
func NewFailedResults(sessionID, documentID string, processingTime time.Duration, cause error) *ComplianceResults {
	now := time.Now().UTC()
	message := "analysis failed"
	if cause != nil {
		message = cause.Error()
	}
	return &ComplianceResults{
		ID:             fmt.Sprintf("error_%s_%d", sessionID, now.Unix()),
		SessionID:      sessionID,
		DocumentID:     documentID,
		Status:         ComplianceFail,
		Issues:         []ComplianceIssue{},
		Summary:        ComplianceSummary{PassThreshold: DefaultPassThreshold},
		GeneratedAt:    now,
		AIModel:        "error",
		ProcessingTime: processingTime.Seconds(),
		Metadata: map[string]any{
			"error":          message,
			"analysisFailed": true,
		},
	}
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

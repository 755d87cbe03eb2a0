package findings

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

func TestExtractJSONPrefersFencedBlock(t *testing.T) {
	raw := "Here you go {not this}\n```json\n{\"issues\": []}\n```\ntrailing }"
	if got := ExtractJSON(raw); got != `{"issues": []}` {
		t.Fatalf("unexpected extraction %q", got)
	}
}

func TestExtractJSONFallsBackToBraces(t *testing.T) {
	raw := `Sure! {"issues": [{"title": "x"}]} Let me know.`
	if got := ExtractJSON(raw); got != `{"issues": [{"title": "x"}]}` {
		t.Fatalf("unexpected extraction %q", got)
	}
}

func TestParseMapsIssuesAndDefaults(t *testing.T) {
	raw := `{"overall_status": "FAIL", "issues": [
		{"severity": "Critical", "title": "No subcontracting plan", "regulation": {"regulation": "FAR", "section": "19.702"}, "confidence": 1.4},
		{"severity": "bogus", "description": "minor"}
	]}`
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	res, err := Parse(raw, Options{IDPrefix: "cloud", SessionID: "s", DocumentID: "d", Model: "gpt", Now: now})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if res.Status != domain.ComplianceFail {
		t.Fatalf("expected fail status, got %s", res.Status)
	}
	if len(res.Issues) != 2 || res.Issues[0].ID != "cloud_d_0" {
		t.Fatalf("unexpected issues %+v", res.Issues)
	}
	if res.Issues[0].Confidence != 1 || res.Issues[0].Regulation.Title != "N/A" {
		t.Fatalf("expected clamped confidence and N/A title, got %+v", res.Issues[0])
	}
	if res.Issues[1].Severity != domain.SeverityInfo || res.Issues[1].Title != "Issue" || res.Issues[1].Confidence != 0.5 {
		t.Fatalf("unexpected defaults %+v", res.Issues[1])
	}
	if res.Summary.CriticalCount != 1 || res.Summary.InfoCount != 1 || res.Summary.OverallScore != 68 {
		t.Fatalf("unexpected summary %+v", res.Summary)
	}
	if !res.GeneratedAt.Equal(now) || res.AIModel != "gpt" {
		t.Fatalf("unexpected envelope %+v", res)
	}
}

func TestParseRequiresIssues(t *testing.T) {
	_, err := Parse(`{"overall_status": "pass"}`, Options{})
	if !errors.Is(err, ErrMissingIssues) {
		t.Fatalf("expected ErrMissingIssues, got %v", err)
	}
	if _, err := Parse("not json at all", Options{}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestMergeRescoresCombinedIssues(t *testing.T) {
	base := &domain.ComplianceResults{ID: "r", Issues: []domain.ComplianceIssue{{Severity: domain.SeverityWarning}}}
	stage := &domain.ComplianceResults{Issues: []domain.ComplianceIssue{{Severity: domain.SeverityInfo}, {Severity: domain.SeverityInfo}}}

	merged := Merge(base, stage, nil)
	if len(merged.Issues) != 3 || len(base.Issues) != 1 {
		t.Fatalf("unexpected merge: merged=%d base=%d", len(merged.Issues), len(base.Issues))
	}
	if merged.Summary.OverallScore != 73 || merged.Status != domain.ComplianceWarning {
		t.Fatalf("unexpected rescoring %+v %s", merged.Summary, merged.Status)
	}
}

func TestBuildPromptTruncatesDocument(t *testing.T) {
	prompt := BuildPrompt("", "rfp.pdf", []string{"FAR", "DFARS"}, strings.Repeat("x", MaxPromptChars+500))
	if strings.Count(prompt, "x") < MaxPromptChars || strings.Count(prompt, "x") > MaxPromptChars+50 {
		t.Fatalf("document excerpt not truncated")
	}
	if !strings.Contains(prompt, "FAR, DFARS") || !strings.Contains(prompt, `"rfp.pdf"`) {
		t.Fatalf("prompt missing context: %s", prompt[:200])
	}
}

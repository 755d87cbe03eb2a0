package simulated

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("word ", n))
}

func TestIssueCountClampedAndMonotone(t *testing.T) {
	cases := map[int]int{0: 2, 999: 2, 2500: 2, 3000: 3, 5999: 5, 6000: 6, 50000: 6}
	for wordCount, want := range cases {
		if got := IssueCount(wordCount); got != want {
			t.Fatalf("IssueCount(%d) = %d, want %d", wordCount, got, want)
		}
	}

	prev := IssueCount(0)
	for wc := 0; wc <= 10000; wc += 250 {
		got := IssueCount(wc)
		if got < prev {
			t.Fatalf("issue count decreased at %d words: %d < %d", wc, got, prev)
		}
		prev = got
	}
}

func TestAnalyzeDocumentSummaryMatchesIssues(t *testing.T) {
	p, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, wc := range []int{10, 3200, 4100, 9000} {
		for _, docID := range []string{"doc-a", "doc-b", "doc-c", "doc-d"} {
			res, err := p.AnalyzeDocument(context.Background(), domain.AnalysisInput{
				SessionID:  "s-1",
				DocumentID: docID,
				Text:       words(wc),
			})
			if err != nil {
				t.Fatalf("AnalyzeDocument() error = %v", err)
			}

			s := res.Summary
			if s.TotalIssues != len(res.Issues) {
				t.Fatalf("total %d != issues %d", s.TotalIssues, len(res.Issues))
			}
			if s.CriticalCount+s.WarningCount+s.InfoCount != s.TotalIssues {
				t.Fatalf("severity counts do not sum: %+v", s)
			}
			if s.OverallScore < 20 || s.OverallScore > 100 {
				t.Fatalf("score out of range: %v", s.OverallScore)
			}

			wantScore := 85.0 - float64(15*s.CriticalCount+8*s.WarningCount+2*s.InfoCount)
			if wantScore < 20 {
				wantScore = 20
			}
			if s.OverallScore != wantScore {
				t.Fatalf("score = %v, want %v", s.OverallScore, wantScore)
			}

			switch {
			case s.CriticalCount > 0 || s.OverallScore < 60:
				if res.Status != domain.ComplianceFail {
					t.Fatalf("expected fail, got %s (%+v)", res.Status, s)
				}
			case s.WarningCount > 0 || s.OverallScore < 80:
				if res.Status != domain.ComplianceWarning {
					t.Fatalf("expected warning, got %s (%+v)", res.Status, s)
				}
			default:
				if res.Status != domain.CompliancePass {
					t.Fatalf("expected pass, got %s (%+v)", res.Status, s)
				}
			}
		}
	}
}

func TestAnalyzeDocumentDeterministicPerDocument(t *testing.T) {
	p, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	input := domain.AnalysisInput{SessionID: "s-1", DocumentID: "doc-42", Text: words(4200)}

	first, err := p.AnalyzeDocument(context.Background(), input)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := p.AnalyzeDocument(context.Background(), input)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !reflect.DeepEqual(first.Issues, second.Issues) {
		t.Fatalf("issues differ between runs")
	}
	if len(first.Issues) != 4 {
		t.Fatalf("expected 4 issues, got %d", len(first.Issues))
	}
	seen := map[string]bool{}
	for _, issue := range first.Issues {
		if seen[issue.Title] {
			t.Fatalf("duplicate template %q", issue.Title)
		}
		seen[issue.Title] = true
	}
}

func TestAnalyzeDocumentRespectsCancelledContext(t *testing.T) {
	p, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.AnalyzeDocument(ctx, domain.AnalysisInput{DocumentID: "d"})
	var analysisErr *domain.AnalysisError
	if !errors.As(err, &analysisErr) || analysisErr.Provider != Name {
		t.Fatalf("expected AnalysisError from %s, got %v", Name, err)
	}
}

func TestParseTemplatesRejectsShortCatalog(t *testing.T) {
	_, err := parseTemplates([]byte("- title: only one\n"))
	if !domain.IsKind(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

// Package simulated produces deterministic compliance findings without any
// model call. It backs development mode and the local provider's fallback.
package simulated

import (
	"context"
	_ "embed"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

const (
	Name = "simulated"

	minIssues     = 2
	maxIssues     = 6
	wordsPerIssue = 1000
)

//go:embed templates.yaml
var templatesYAML []byte

type issueTemplate struct {
	Severity    string                     `yaml:"severity"`
	Title       string                     `yaml:"title"`
	Description string                     `yaml:"description"`
	Regulation  domain.RegulatoryReference `yaml:"regulation"`
	Confidence  float64                    `yaml:"confidence"`
	Remediation string                     `yaml:"remediation"`
}

type Provider struct {
	templates []issueTemplate
	reason    string
	now       func() time.Time
}

// New loads the embedded finding catalog. reason is recorded in result
// metadata so callers can tell why the simulation was used.
func New(reason string) (*Provider, error) {
	templates, err := parseTemplates(templatesYAML)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "simulated analysis mode"
	}
	return &Provider{
		templates: templates,
		reason:    reason,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func parseTemplates(raw []byte) ([]issueTemplate, error) {
	var templates []issueTemplate
	if err := yaml.Unmarshal(raw, &templates); err != nil {
		return nil, fmt.Errorf("%w: parse simulated templates: %v", domain.ErrConfiguration, err)
	}
	if len(templates) < maxIssues {
		return nil, fmt.Errorf("%w: simulated catalog needs at least %d templates, got %d",
			domain.ErrConfiguration, maxIssues, len(templates))
	}
	return templates, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) IsAvailable(context.Context) bool { return true }

func (p *Provider) AnalyzeDocument(ctx context.Context, input domain.AnalysisInput) (*domain.ComplianceResults, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewAnalysisError(Name, "context done", err)
	}
	started := time.Now()

	wordCount := len(strings.Fields(input.Text))
	issues := p.selectIssues(input.DocumentID, IssueCount(wordCount))
	summary := domain.Summarize(issues, 0)
	score, status := domain.ScoreIssues(summary)
	summary.OverallScore = score

	now := p.now()
	return &domain.ComplianceResults{
		ID:             fmt.Sprintf("sim_%s_%d", input.DocumentID, now.Unix()),
		SessionID:      input.SessionID,
		DocumentID:     input.DocumentID,
		Status:         status,
		Issues:         issues,
		Summary:        summary,
		GeneratedAt:    now,
		AIModel:        "simulated-compliance-engine",
		ProcessingTime: time.Since(started).Seconds(),
		Metadata: map[string]any{
			"analysis_type":        "simulated",
			"document_filename":    input.Filename,
			"document_text_length": len(input.Text),
			"document_word_count":  wordCount,
			"fallback_reason":      p.reason,
			"simulated_analysis":   true,
		},
	}, nil
}

// IssueCount is clamp(words/1000, 2, 6).
func IssueCount(wordCount int) int {
	n := wordCount / wordsPerIssue
	if n < minIssues {
		return minIssues
	}
	if n > maxIssues {
		return maxIssues
	}
	return n
}

// selectIssues walks the catalog from an offset derived from the document
// id, so the same document always yields the same findings.
func (p *Provider) selectIssues(documentID string, count int) []domain.ComplianceIssue {
	h := fnv.New32a()
	_, _ = h.Write([]byte(documentID))
	offset := int(h.Sum32() % uint32(len(p.templates)))

	issues := make([]domain.ComplianceIssue, 0, count)
	for i := 0; i < count; i++ {
		tpl := p.templates[(offset+i)%len(p.templates)]
		issues = append(issues, domain.ComplianceIssue{
			ID:          fmt.Sprintf("sim_%s_%d", documentID, i),
			Severity:    domain.ParseSeverity(tpl.Severity),
			Title:       tpl.Title,
			Description: tpl.Description,
			Regulation:  tpl.Regulation,
			Remediation: tpl.Remediation,
			Confidence:  tpl.Confidence,
		})
	}
	return issues
}

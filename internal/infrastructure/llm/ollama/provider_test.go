package ollama

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

type generatorFake struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	up      bool
}

func (f *generatorFake) GenerateJSON(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *generatorFake) Ping(context.Context) bool { return f.up }
func (f *generatorFake) Model() string             { return "llama-test" }

type guardFake struct {
	calls int
	err   error
}

func (g *guardFake) Wait(context.Context) error {
	g.calls++
	return g.err
}

type fallbackFake struct {
	calls int
}

func (f *fallbackFake) Name() string                     { return "simulated" }
func (f *fallbackFake) IsAvailable(context.Context) bool { return true }
func (f *fallbackFake) AnalyzeDocument(_ context.Context, input domain.AnalysisInput) (*domain.ComplianceResults, error) {
	f.calls++
	return &domain.ComplianceResults{DocumentID: input.DocumentID, Metadata: map[string]any{}}, nil
}

type chunkerFake struct{ chunks []string }

func (c chunkerFake) Split(string) []string { return c.chunks }

const oneIssue = `{"issues":[{"severity":"warning","title":"gap"}]}`

func TestSingleCallMode(t *testing.T) {
	gen := &generatorFake{reply: oneIssue}
	guard := &guardFake{}
	p := newProvider(gen, nil, guard, nil, Options{UseLLM: true}, nil)

	res, err := p.AnalyzeDocument(context.Background(), domain.AnalysisInput{DocumentID: "d", Text: "body"})
	if err != nil {
		t.Fatalf("AnalyzeDocument() error = %v", err)
	}
	if len(gen.prompts) != 1 || guard.calls != 1 {
		t.Fatalf("expected one model call and one guard check, got %d/%d", len(gen.prompts), guard.calls)
	}
	if len(res.Issues) != 1 || res.Metadata["analysis_type"] != "local_ai" {
		t.Fatalf("unexpected results %+v", res)
	}
}

func TestMultiStageConcatenatesPersonaFindings(t *testing.T) {
	gen := &generatorFake{reply: oneIssue}
	p := newProvider(gen, chunkerFake{chunks: []string{"c1", "c2"}}, nil, nil, Options{UseLLM: true, MultiStage: true}, nil)

	res, err := p.AnalyzeDocument(context.Background(), domain.AnalysisInput{DocumentID: "d", Text: "body"})
	if err != nil {
		t.Fatalf("AnalyzeDocument() error = %v", err)
	}
	want := len(personas) * 2
	if len(gen.prompts) != want || len(res.Issues) != want {
		t.Fatalf("expected %d calls and issues, got %d/%d", want, len(gen.prompts), len(res.Issues))
	}
	if res.Summary.WarningCount != want || res.Status != domain.ComplianceWarning {
		t.Fatalf("unexpected merged summary %+v", res.Summary)
	}
	ids := map[string]bool{}
	for _, issue := range res.Issues {
		if ids[issue.ID] {
			t.Fatalf("duplicate issue id %s", issue.ID)
		}
		ids[issue.ID] = true
	}
	if !strings.Contains(gen.prompts[0], "FAR/DFARS Compliance Agent") {
		t.Fatalf("first stage should use the FAR persona")
	}
}

func TestModelFailureFallsBackWhenAllowed(t *testing.T) {
	gen := &generatorFake{err: errors.New("connection refused")}
	fallback := &fallbackFake{}
	p := newProvider(gen, nil, nil, fallback, Options{UseLLM: true, AllowFallback: true}, nil)

	res, err := p.AnalyzeDocument(context.Background(), domain.AnalysisInput{DocumentID: "d"})
	if err != nil {
		t.Fatalf("AnalyzeDocument() error = %v", err)
	}
	if fallback.calls != 1 || res.Metadata["local_mode"] != true {
		t.Fatalf("expected fallback result, got %+v", res)
	}
}

func TestModelFailureSurfacesWithoutFallback(t *testing.T) {
	gen := &generatorFake{err: errors.New("connection refused")}
	fallback := &fallbackFake{}
	p := newProvider(gen, nil, nil, fallback, Options{UseLLM: true}, nil)

	_, err := p.AnalyzeDocument(context.Background(), domain.AnalysisInput{DocumentID: "d"})
	var analysisErr *domain.AnalysisError
	if !errors.As(err, &analysisErr) || analysisErr.Provider != Name {
		t.Fatalf("expected local AnalysisError, got %v", err)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback must not run")
	}
}

func TestGuardInterruptionFailsAnalysis(t *testing.T) {
	p := newProvider(&generatorFake{reply: oneIssue}, nil, &guardFake{err: context.Canceled}, nil, Options{UseLLM: true}, nil)
	if _, err := p.AnalyzeDocument(context.Background(), domain.AnalysisInput{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAvailability(t *testing.T) {
	if !newProvider(&generatorFake{up: true}, nil, nil, nil, Options{UseLLM: true}, nil).IsAvailable(context.Background()) {
		t.Fatalf("expected available when model answers")
	}
	if newProvider(&generatorFake{up: true}, nil, nil, nil, Options{}, nil).IsAvailable(context.Background()) {
		t.Fatalf("disabled model without fallback must be unavailable")
	}
}

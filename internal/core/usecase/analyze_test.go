package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

func newAnalyzeFixture() (*AnalyzeDocumentUseCase, *sessionStoreFake, *extractorFake, *providerFake, *broadcasterFake) {
	store := newSessionStoreFake()
	store.put(domain.Session{ID: "s-1", DocumentID: "d-1", Status: domain.StatusQueued})
	extractor := &extractorFake{text: "proposal body", metadata: map[string]any{"pages": 3}}
	provider := &providerFake{
		name: "simulated",
		results: &domain.ComplianceResults{
			Status: domain.ComplianceWarning,
			Issues: []domain.ComplianceIssue{{ID: "i-1", Severity: domain.SeverityWarning}},
		},
	}
	broadcaster := &broadcasterFake{}
	uc := NewAnalyzeDocumentUseCase(store, extractor, &resolverFake{provider: provider}, broadcaster, nil)
	return uc, store, extractor, provider, broadcaster
}

func testRequest() domain.AnalysisRequest {
	return domain.AnalysisRequest{
		DocumentID: "d-1",
		Filename:   "proposal.pdf",
		StorageKey: "uploads/d-1_proposal.pdf",
		Frameworks: []string{"FAR"},
	}
}

func TestAnalyzeEmitsNonDecreasingMilestones(t *testing.T) {
	uc, store, extractor, provider, broadcaster := newAnalyzeFixture()

	if err := uc.Run(context.Background(), "s-1", testRequest()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []float64{15, 30, 45, 55, 65, 80, 90, 100}
	if len(store.updates) != len(want) {
		t.Fatalf("expected %d updates, got %d", len(want), len(store.updates))
	}
	for i, update := range store.updates {
		if update.Progress != want[i] {
			t.Fatalf("update %d: expected %.0f, got %.0f", i, want[i], update.Progress)
		}
	}
	if last := store.updates[len(store.updates)-1]; last.Status != domain.StatusCompleted {
		t.Fatalf("expected completed status, got %s", last.Status)
	}

	if extractor.keys[0] != "uploads/d-1_proposal.pdf" {
		t.Fatalf("unexpected storage key %q", extractor.keys[0])
	}
	if provider.inputs[0].Text != "proposal body" || provider.inputs[0].SessionID != "s-1" {
		t.Fatalf("unexpected provider input: %+v", provider.inputs[0])
	}

	results, err := store.GetResult(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if results.ID == "" || results.DocumentID != "d-1" {
		t.Fatalf("unexpected results linkage: %+v", results)
	}
	if results.Metadata["document_text_length"] != len("proposal body") {
		t.Fatalf("expected text length metadata, got %v", results.Metadata["document_text_length"])
	}

	last := broadcaster.events[len(broadcaster.events)-1]
	if last.Type != domain.EventAnalysisComplete || last.Data.ResultsID != results.ID {
		t.Fatalf("unexpected completion event: %+v", last)
	}
}

func TestAnalyzeReturnsProviderError(t *testing.T) {
	uc, store, _, provider, broadcaster := newAnalyzeFixture()
	provider.err = domain.NewAnalysisError("cloud", "malformed JSON", errors.New("unexpected EOF"))

	err := uc.Run(context.Background(), "s-1", testRequest())
	var analysisErr *domain.AnalysisError
	if !errors.As(err, &analysisErr) {
		t.Fatalf("expected AnalysisError, got %v", err)
	}
	if _, getErr := store.GetResult(context.Background(), "s-1"); getErr == nil {
		t.Fatalf("expected no stored result on provider failure")
	}
	for _, event := range broadcaster.events {
		if event.Terminal() {
			t.Fatalf("pipeline must leave terminal events to the retry controller")
		}
	}
}

func TestAnalyzeReturnsExtractionError(t *testing.T) {
	uc, _, extractor, provider, _ := newAnalyzeFixture()
	extractor.err = domain.WrapError(domain.ErrTemporary, "open object", errors.New("connection reset"))

	err := uc.Run(context.Background(), "s-1", testRequest())
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if len(provider.inputs) != 0 {
		t.Fatalf("provider must not run after extraction failure")
	}
}

func TestAnalyzePassesProviderOverride(t *testing.T) {
	store := newSessionStoreFake()
	resolver := &resolverFake{provider: &providerFake{name: "cloud", results: &domain.ComplianceResults{}}}
	uc := NewAnalyzeDocumentUseCase(store, &extractorFake{text: "x"}, resolver, nil, nil)

	req := testRequest()
	req.Provider = "cloud"
	if err := uc.Run(context.Background(), "s-1", req); err != nil {
		t.Fatalf("run: %v", err)
	}
	if resolver.kinds[0] != "cloud" {
		t.Fatalf("expected cloud override, got %q", resolver.kinds[0])
	}
}

func TestAnalyzeStopsOnCancelledContext(t *testing.T) {
	uc, _, extractor, _, _ := newAnalyzeFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := uc.Run(ctx, "s-1", testRequest()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(extractor.keys) != 0 {
		t.Fatalf("extraction must not start on a cancelled context")
	}
}

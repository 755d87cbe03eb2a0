package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

type milestone struct {
	status   domain.SessionStatus
	progress float64
	step     string
	label    string
}

var (
	stageExtractStart = milestone{domain.StatusExtracting, 15, "Extracting text from PDF document", "Extraction"}
	stageExtractDone  = milestone{domain.StatusExtracting, 30, "Extraction complete", "Extraction"}
	stageFARScan      = milestone{domain.StatusAnalyzing, 45, "Analyzing document for FAR compliance", "FAR Scan"}
	stageDFARSAudit   = milestone{domain.StatusAnalyzing, 55, "Performing DFARS regulatory audit", "DFARS Audit"}
	stageSecurity     = milestone{domain.StatusValidating, 65, "Conducting security review of compliance findings", "Security Review"}
	stagePolicy       = milestone{domain.StatusValidating, 80, "Cross-referencing organizational policies", "Policy Check"}
	stageGeneration   = milestone{domain.StatusGenerating, 90, "Generating final compliance report", "Generation"}
)

// AnalyzeDocumentUseCase is the pipeline bound to the processing pool.
// Any returned error is handed to the pool's retry controller.
type AnalyzeDocumentUseCase struct {
	sessions    ports.SessionStore
	extractor   ports.TextExtractor
	providers   ports.ProviderResolver
	broadcaster ports.ProgressBroadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewAnalyzeDocumentUseCase(
	sessions ports.SessionStore,
	extractor ports.TextExtractor,
	providers ports.ProviderResolver,
	broadcaster ports.ProgressBroadcaster,
	logger *slog.Logger,
) *AnalyzeDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyzeDocumentUseCase{
		sessions:    sessions,
		extractor:   extractor,
		providers:   providers,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

func (uc *AnalyzeDocumentUseCase) Run(ctx context.Context, sessionID string, req domain.AnalysisRequest) error {
	start := uc.now()

	if err := uc.advance(ctx, sessionID, stageExtractStart); err != nil {
		return err
	}
	text, metadata, err := uc.extractor.Extract(ctx, req.StorageKey)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	uc.logger.Info("document_text_extracted", "session_id", sessionID, "document_id", req.DocumentID, "chars", len(text))
	if err := uc.advance(ctx, sessionID, stageExtractDone); err != nil {
		return err
	}

	if err := uc.advance(ctx, sessionID, stageFARScan); err != nil {
		return err
	}
	provider, err := uc.providers.Resolve(req.Provider)
	if err != nil {
		return fmt.Errorf("resolve provider: %w", err)
	}
	uc.logger.Info("analysis_provider_selected", "session_id", sessionID, "provider", provider.Name())

	if err := uc.advance(ctx, sessionID, stageDFARSAudit); err != nil {
		return err
	}
	results, err := provider.AnalyzeDocument(ctx, domain.AnalysisInput{
		SessionID:    sessionID,
		DocumentID:   req.DocumentID,
		Filename:     req.Filename,
		Text:         text,
		Metadata:     metadata,
		Frameworks:   req.Frameworks,
		AnalysisType: req.AnalysisType,
	})
	if err != nil {
		return fmt.Errorf("analyze document: %w", err)
	}
	if results == nil {
		return domain.NewAnalysisError(provider.Name(), "provider returned no results", nil)
	}

	for _, stage := range []milestone{stageSecurity, stagePolicy, stageGeneration} {
		if err := uc.advance(ctx, sessionID, stage); err != nil {
			return err
		}
	}

	if results.ID == "" {
		results.ID = uuid.NewString()
	}
	results.SessionID = sessionID
	results.DocumentID = req.DocumentID
	results.ProcessingTime = uc.now().Sub(start).Seconds()
	if results.GeneratedAt.IsZero() {
		results.GeneratedAt = uc.now().UTC()
	}
	if results.Metadata == nil {
		results.Metadata = map[string]any{}
	}
	results.Metadata["pdf_metadata"] = metadata
	results.Metadata["text_extraction_successful"] = true
	results.Metadata["document_text_length"] = len(text)

	if err := uc.sessions.StoreResult(ctx, results); err != nil {
		return fmt.Errorf("store results: %w", err)
	}
	if err := uc.sessions.UpdateProgress(ctx, domain.ProgressUpdate{
		SessionID: sessionID,
		Status:    domain.StatusCompleted,
		Progress:  100,
		Step:      "Analysis completed successfully",
	}); err != nil {
		return fmt.Errorf("set status=completed: %w", err)
	}
	uc.broadcast(ctx, domain.NewCompleteEvent(sessionID, results.ID))

	uc.logger.Info("analysis_completed",
		"session_id", sessionID,
		"results_id", results.ID,
		"status", results.Status,
		"issues", len(results.Issues),
		"duration_ms", time.Duration(results.ProcessingTime*float64(time.Second)).Milliseconds(),
	)
	return nil
}

func (uc *AnalyzeDocumentUseCase) advance(ctx context.Context, sessionID string, stage milestone) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := uc.sessions.UpdateProgress(ctx, domain.ProgressUpdate{
		SessionID: sessionID,
		Status:    stage.status,
		Progress:  stage.progress,
		Step:      stage.step,
	}); err != nil {
		return fmt.Errorf("set status=%s: %w", stage.status, err)
	}
	uc.broadcast(ctx, domain.NewProgressEvent(sessionID, stage.status, stage.progress, stage.label))
	return nil
}

func (uc *AnalyzeDocumentUseCase) broadcast(ctx context.Context, event domain.ProgressEvent) {
	if uc.broadcaster != nil {
		uc.broadcaster.Broadcast(ctx, event)
	}
}

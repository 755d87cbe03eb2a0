package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

// TaskSubmitter hands a created session to whatever runs the pipeline:
// the in-process pool or a remote worker node.
type TaskSubmitter interface {
	Submit(sessionID string, req domain.AnalysisRequest) bool
}

// TaskCanceller cancels a session the local pool may be running.
type TaskCanceller interface {
	Cancel(ctx context.Context, sessionID string) bool
}

type AnalysisUseCase struct {
	sessions  ports.SessionStore
	submitter TaskSubmitter
	canceller TaskCanceller
	renderer  ports.ReportRenderer
	logger    *slog.Logger
}

func NewAnalysisUseCase(
	sessions ports.SessionStore,
	submitter TaskSubmitter,
	canceller TaskCanceller,
	renderer ports.ReportRenderer,
	logger *slog.Logger,
) *AnalysisUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisUseCase{
		sessions:  sessions,
		submitter: submitter,
		canceller: canceller,
		renderer:  renderer,
		logger:    logger,
	}
}

// Start creates a session and submits it for processing.
func (uc *AnalysisUseCase) Start(ctx context.Context, req domain.AnalysisRequest) (*domain.Session, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	req.Normalize()

	sessionID, err := uc.sessions.CreateSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if !uc.submitter.Submit(sessionID, req) {
		if markErr := uc.sessions.UpdateProgress(ctx, domain.ProgressUpdate{
			SessionID:    sessionID,
			Status:       domain.StatusFailed,
			Step:         "Failed to queue analysis task",
			ErrorMessage: domain.ErrNotAccepting.Error(),
		}); markErr != nil {
			uc.logger.Error("session_reject_mark_failed", "session_id", sessionID, "error", markErr)
		}
		return nil, fmt.Errorf("submit session %s: %w", sessionID, domain.ErrNotAccepting)
	}

	session, err := uc.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	uc.logger.Info("analysis_started", "session_id", sessionID, "document_id", req.DocumentID, "priority", req.Priority)
	return session, nil
}

func (uc *AnalysisUseCase) Status(ctx context.Context, sessionID string) (*domain.Session, error) {
	return uc.sessions.GetSession(ctx, sessionID)
}

// Results returns the stored results. A failed session yields its persisted
// failure record; any other non-completed session yields ErrResultNotReady.
func (uc *AnalysisUseCase) Results(ctx context.Context, sessionID string) (*domain.ComplianceResults, error) {
	session, err := uc.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case domain.StatusCompleted, domain.StatusFailed:
	default:
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, session.Status, domain.ErrResultNotReady)
	}

	results, err := uc.sessions.GetResult(ctx, sessionID)
	if err != nil {
		if session.Status == domain.StatusFailed && domain.IsKind(err, domain.ErrResultNotFound) {
			return domain.NewFailedResults(sessionID, session.DocumentID, 0, fmt.Errorf("%s", session.ErrorMessage)), nil
		}
		return nil, err
	}
	return results, nil
}

// Cancel marks the session cancelled. Sessions already completed are left alone.
func (uc *AnalysisUseCase) Cancel(ctx context.Context, sessionID string) (bool, error) {
	session, err := uc.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session.Status.Terminal() {
		return false, nil
	}

	if uc.canceller != nil {
		return uc.canceller.Cancel(ctx, sessionID), nil
	}
	if err := uc.sessions.UpdateProgress(ctx, domain.ProgressUpdate{
		SessionID:    sessionID,
		Status:       domain.StatusFailed,
		Step:         "Analysis cancelled by user",
		ErrorMessage: "Task cancelled by user request",
	}); err != nil {
		return false, fmt.Errorf("mark session cancelled: %w", err)
	}
	return true, nil
}

// ExportReport renders completed results with the configured report renderer.
func (uc *AnalysisUseCase) ExportReport(ctx context.Context, sessionID string) ([]byte, string, error) {
	if uc.renderer == nil {
		return nil, "", fmt.Errorf("export report: %w: no renderer configured", domain.ErrInvalidInput)
	}
	results, err := uc.Results(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	data, err := uc.renderer.Render(ctx, results)
	if err != nil {
		return nil, "", fmt.Errorf("render report: %w", err)
	}
	return data, uc.renderer.ContentType(), nil
}

func validateRequest(req domain.AnalysisRequest) error {
	var missing []string
	if strings.TrimSpace(req.DocumentID) == "" {
		missing = append(missing, "document_id")
	}
	if strings.TrimSpace(req.Filename) == "" {
		missing = append(missing, "filename")
	}
	if strings.TrimSpace(req.StorageKey) == "" {
		missing = append(missing, "s3_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

const defaultPublishTimeout = 5 * time.Second

// QueueSubmitter hands sessions to remote worker nodes through the request
// queue. It satisfies TaskSubmitter for API nodes that run no local pool.
type QueueSubmitter struct {
	queue   ports.RequestQueue
	timeout time.Duration
	logger  *slog.Logger
}

func NewQueueSubmitter(queue ports.RequestQueue, timeout time.Duration, logger *slog.Logger) *QueueSubmitter {
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueSubmitter{queue: queue, timeout: timeout, logger: logger}
}

// Submit reports false when the request could not be published, which the
// caller treats the same as a pool that is not accepting work.
func (s *QueueSubmitter) Submit(sessionID string, req domain.AnalysisRequest) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.queue.PublishAnalysisRequest(ctx, sessionID, req); err != nil {
		s.logger.Error("analysis_request_publish_failed", "session_id", sessionID, "error", err)
		return false
	}
	s.logger.Info("analysis_request_published", "session_id", sessionID, "priority", req.Priority)
	return true
}

// WorkerIntake feeds requests received from the queue into the local pool.
type WorkerIntake struct {
	submitter TaskSubmitter
	logger    *slog.Logger
}

func NewWorkerIntake(submitter TaskSubmitter, logger *slog.Logger) *WorkerIntake {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerIntake{submitter: submitter, logger: logger}
}

// Handle is the request queue subscription callback. A rejected submission
// is returned as ErrNotAccepting so the transport can log it.
func (w *WorkerIntake) Handle(_ context.Context, sessionID string, req domain.AnalysisRequest) error {
	if sessionID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "worker intake", errMissingSessionID)
	}
	if !w.submitter.Submit(sessionID, req) {
		w.logger.Warn("analysis_request_rejected", "session_id", sessionID)
		return domain.ErrNotAccepting
	}
	return nil
}

var errMissingSessionID = errors.New("missing session id")

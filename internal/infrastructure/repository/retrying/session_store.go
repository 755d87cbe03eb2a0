package retrying

import (
	"context"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/resilience"
)

// SessionStore runs every call of the wrapped store through the resilience
// executor, so transient failures are retried with exponential backoff.
type SessionStore struct {
	next     ports.SessionStore
	executor *resilience.Executor
}

func NewSessionStore(next ports.SessionStore, executor *resilience.Executor) *SessionStore {
	return &SessionStore{next: next, executor: executor}
}

func (s *SessionStore) CreateSession(ctx context.Context, req domain.AnalysisRequest) (string, error) {
	return resilience.Do(ctx, s.executor, "session_store.create_session", func(ctx context.Context) (string, error) {
		return s.next.CreateSession(ctx, req)
	}, resilience.ClassifyTemporary)
}

func (s *SessionStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return resilience.Do(ctx, s.executor, "session_store.get_session", func(ctx context.Context) (*domain.Session, error) {
		return s.next.GetSession(ctx, id)
	}, resilience.ClassifyTemporary)
}

func (s *SessionStore) UpdateProgress(ctx context.Context, update domain.ProgressUpdate) error {
	return s.executor.Execute(ctx, "session_store.update_progress", func(ctx context.Context) error {
		return s.next.UpdateProgress(ctx, update)
	}, resilience.ClassifyTemporary)
}

func (s *SessionStore) StoreResult(ctx context.Context, results *domain.ComplianceResults) error {
	return s.executor.Execute(ctx, "session_store.store_result", func(ctx context.Context) error {
		return s.next.StoreResult(ctx, results)
	}, resilience.ClassifyTemporary)
}

func (s *SessionStore) GetResult(ctx context.Context, sessionID string) (*domain.ComplianceResults, error) {
	return resilience.Do(ctx, s.executor, "session_store.get_result", func(ctx context.Context) (*domain.ComplianceResults, error) {
		return s.next.GetResult(ctx, sessionID)
	}, resilience.ClassifyTemporary)
}

package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

const estimatedAnalysisDuration = 5 * time.Minute

// SessionStore keeps sessions and results in process memory. It is used
// when no Postgres DSN is configured.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	results  map[string]*domain.ComplianceResults
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.Session),
		results:  make(map[string]*domain.ComplianceResults),
		now:      time.Now,
	}
}

func (s *SessionStore) CreateSession(_ context.Context, req domain.AnalysisRequest) (string, error) {
	now := s.now().UTC()
	estimated := now.Add(estimatedAnalysisDuration)
	session := &domain.Session{
		ID:                  uuid.NewString(),
		DocumentID:          req.DocumentID,
		Filename:            req.Filename,
		StorageKey:          req.StorageKey,
		AnalysisType:        req.AnalysisType,
		Priority:            req.Priority,
		CallbackURL:         req.CallbackURL,
		Status:              domain.StatusQueued,
		CurrentStep:         "Analysis queued",
		StartedAt:           now,
		EstimatedCompletion: &estimated,
		Request:             req,
		UpdatedAt:           now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	return session.ID, nil
}

func (s *SessionStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id=%s", id))
	}
	copied := *session
	return &copied, nil
}

func (s *SessionStore) UpdateProgress(_ context.Context, update domain.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[update.SessionID]
	if !ok {
		return domain.WrapError(domain.ErrSessionNotFound, "update session progress", fmt.Errorf("id=%s", update.SessionID))
	}
	now := s.now().UTC()
	session.Status = update.Status
	session.Progress = update.Progress
	session.CurrentStep = update.Step
	session.ErrorMessage = update.ErrorMessage
	session.UpdatedAt = now
	if update.Status.Terminal() {
		session.CompletedAt = &now
	}
	return nil
}

func (s *SessionStore) StoreResult(_ context.Context, results *domain.ComplianceResults) error {
	if results == nil {
		return fmt.Errorf("store result: %w: nil results", domain.ErrInvalidInput)
	}
	copied := *results
	s.mu.Lock()
	s.results[results.SessionID] = &copied
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) GetResult(_ context.Context, sessionID string) (*domain.ComplianceResults, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results, ok := s.results[sessionID]
	if !ok {
		return nil, domain.WrapError(domain.ErrResultNotFound, "get result", fmt.Errorf("session_id=%s", sessionID))
	}
	copied := *results
	return &copied, nil
}

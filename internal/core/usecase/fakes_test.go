package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

type sessionStoreFake struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	results   map[string]*domain.ComplianceResults
	updates   []domain.ProgressUpdate
	createErr error
	updateErr error
	storeErr  error
}

func newSessionStoreFake() *sessionStoreFake {
	return &sessionStoreFake{
		sessions: make(map[string]*domain.Session),
		results:  make(map[string]*domain.ComplianceResults),
	}
}

func (f *sessionStoreFake) put(session domain.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = &session
}

func (f *sessionStoreFake) CreateSession(_ context.Context, req domain.AnalysisRequest) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("session-%d", len(f.sessions)+1)
	f.sessions[id] = &domain.Session{
		ID:          id,
		DocumentID:  req.DocumentID,
		Filename:    req.Filename,
		StorageKey:  req.StorageKey,
		Priority:    req.Priority,
		CallbackURL: req.CallbackURL,
		Status:      domain.StatusQueued,
		CurrentStep: "Analysis queued",
		Request:     req,
	}
	return id, nil
}

func (f *sessionStoreFake) GetSession(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", errors.New(id))
	}
	copied := *session
	return &copied, nil
}

func (f *sessionStoreFake) UpdateProgress(_ context.Context, update domain.ProgressUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	if session, ok := f.sessions[update.SessionID]; ok {
		session.Status = update.Status
		session.Progress = update.Progress
		session.CurrentStep = update.Step
		session.ErrorMessage = update.ErrorMessage
	}
	return nil
}

func (f *sessionStoreFake) StoreResult(_ context.Context, results *domain.ComplianceResults) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[results.SessionID] = results
	return nil
}

func (f *sessionStoreFake) GetResult(_ context.Context, sessionID string) (*domain.ComplianceResults, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results, ok := f.results[sessionID]
	if !ok {
		return nil, domain.WrapError(domain.ErrResultNotFound, "get result", errors.New(sessionID))
	}
	return results, nil
}

type extractorFake struct {
	text     string
	metadata map[string]any
	err      error
	keys     []string
}

func (f *extractorFake) Extract(_ context.Context, key string) (string, map[string]any, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return "", nil, f.err
	}
	return f.text, f.metadata, nil
}

type providerFake struct {
	name    string
	results *domain.ComplianceResults
	err     error
	inputs  []domain.AnalysisInput
}

func (f *providerFake) Name() string                     { return f.name }
func (f *providerFake) IsAvailable(context.Context) bool { return true }

func (f *providerFake) AnalyzeDocument(_ context.Context, input domain.AnalysisInput) (*domain.ComplianceResults, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	copied := *f.results
	return &copied, nil
}

type resolverFake struct {
	provider ports.AnalysisProvider
	err      error
	kinds    []string
}

func (f *resolverFake) Resolve(kind string) (ports.AnalysisProvider, error) {
	f.kinds = append(f.kinds, kind)
	if f.err != nil {
		return nil, f.err
	}
	return f.provider, nil
}

type broadcasterFake struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (f *broadcasterFake) Broadcast(_ context.Context, event domain.ProgressEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type storageFake struct {
	saved map[string][]byte
	err   error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.err != nil {
		return f.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.saved == nil {
		f.saved = make(map[string][]byte)
	}
	f.saved[key] = body
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := f.saved[key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

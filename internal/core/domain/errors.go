package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrResultNotFound   = errors.New("result not found")
	ErrResultNotReady   = errors.New("analysis not yet completed")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTemporary        = errors.New("temporary failure")
	ErrNotAccepting     = errors.New("processing pool is not accepting work")
	ErrConfiguration    = errors.New("configuration error")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// AnalysisError is returned by analysis providers.
type AnalysisError struct {
	Provider string
	Reason   string
	Err      error
}

func NewAnalysisError(provider, reason string, err error) *AnalysisError {
	return &AnalysisError{Provider: provider, Reason: reason, Err: err}
}

func (e *AnalysisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s analysis failed: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s analysis failed: %s: %v", e.Provider, e.Reason, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

func normalizeToken(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

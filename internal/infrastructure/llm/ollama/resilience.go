package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/resilience"
)

// HTTPStatusError is a non-2xx reply from the Ollama API. Message holds the
// "error" field of the JSON body when Ollama sent one.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("ollama %s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("ollama %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// modelMissing reports the 404 Ollama returns for a model that was never pulled.
func (e *HTTPStatusError) modelMissing() bool {
	return e.StatusCode == http.StatusNotFound && strings.Contains(strings.ToLower(e.Message), "model")
}

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var (
	retryAndTrip = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	tripOnly     = resilience.ErrorClassification{RecordFailure: true}
	ignore       = resilience.ErrorClassification{}
)

// classifyOllamaError decides retry and breaker accounting for generate calls.
// A busy or restarting daemon is retried; a bad request or a missing model is not.
func classifyOllamaError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return ignore
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ignore
	case resilience.IsCircuitOpen(err):
		return retryAndTrip
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if retryableStatus[statusErr.StatusCode] {
			return retryAndTrip
		}
		return ignore
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retryAndTrip
	}
	return tripOnly
}

// classifyGenerateFailure maps a final generate error onto a domain kind so
// the pool knows whether another attempt can help.
func classifyGenerateFailure(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrConfiguration) {
		return err
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.modelMissing() {
		return domain.WrapError(domain.ErrConfiguration, operation, err)
	}
	if classifyOllamaError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

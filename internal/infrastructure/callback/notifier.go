// Package callback posts terminal progress events to client supplied URLs.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/resilience"
)

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("callback status %d: %s", e.code, e.body)
}

type Notifier struct {
	client   *http.Client
	executor *resilience.Executor
}

func NewNotifier(timeout time.Duration, executor *resilience.Executor) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		client:   &http.Client{Timeout: timeout},
		executor: executor,
	}
}

func (n *Notifier) Notify(ctx context.Context, target string, event domain.ProgressEvent) error {
	parsed, err := url.Parse(target)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: invalid callback url %q", domain.ErrInvalidInput, target)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}

	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, parsed.String(), bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create callback request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return fmt.Errorf("callback request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(msg))}
		}
		return nil
	}

	if n.executor == nil {
		return call(ctx)
	}
	return n.executor.Execute(ctx, "callback.notify", call, classifyCallbackError)
}

func classifyCallbackError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var statusErr *statusError
	if errors.As(err, &statusErr) {
		retryable := statusErr.code == http.StatusTooManyRequests || statusErr.code >= 500
		return resilience.ErrorClassification{Retryable: retryable, RecordFailure: retryable}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

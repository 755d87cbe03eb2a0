package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/infrastructure/resilience"
)

func fastExecutor() *resilience.Executor {
	cfg := resilience.DefaultConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	cfg.RetryMaxBackoff = time.Millisecond
	return resilience.NewExecutor(cfg, nil)
}

func TestNotifyPostsEvent(t *testing.T) {
	var got domain.ProgressEvent
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewNotifier(time.Second, fastExecutor())
	if err := n.Notify(context.Background(), server.URL+"/hook", domain.NewCompleteEvent("s-1", "r-1")); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if got.SessionID != "s-1" || got.Data.ResultsID != "r-1" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestNotifyRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "try later", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	if err := NewNotifier(time.Second, fastExecutor()).Notify(context.Background(), server.URL, domain.NewErrorEvent("s", "x")); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestNotifyDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer server.Close()

	if err := NewNotifier(time.Second, fastExecutor()).Notify(context.Background(), server.URL, domain.NewErrorEvent("s", "x")); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestNotifyRejectsInvalidURL(t *testing.T) {
	for _, target := range []string{"", "ftp://example.com", "not a url"} {
		if err := NewNotifier(time.Second, nil).Notify(context.Background(), target, domain.ProgressEvent{}); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", target, err)
		}
	}
}

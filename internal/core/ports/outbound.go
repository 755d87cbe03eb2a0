package ports

import (
	"context"
	"io"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

// SessionStore persists analysis sessions and their final results.
type SessionStore interface {
	CreateSession(ctx context.Context, req domain.AnalysisRequest) (string, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	UpdateProgress(ctx context.Context, update domain.ProgressUpdate) error
	StoreResult(ctx context.Context, results *domain.ComplianceResults) error
	GetResult(ctx context.Context, sessionID string) (*domain.ComplianceResults, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TextExtractor extracts plain text and document metadata from a stored object.
type TextExtractor interface {
	Extract(ctx context.Context, storageKey string) (string, map[string]any, error)
}

// AnalysisProvider is one interchangeable compliance analysis backend.
// Implementations must be safe for concurrent use.
type AnalysisProvider interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	AnalyzeDocument(ctx context.Context, input domain.AnalysisInput) (*domain.ComplianceResults, error)
}

// ProviderResolver picks the provider for a request. An empty kind selects
// the configured default.
type ProviderResolver interface {
	Resolve(kind string) (AnalysisProvider, error)
}

// ProgressBroadcaster fans progress events out to live subscribers.
type ProgressBroadcaster interface {
	Broadcast(ctx context.Context, event domain.ProgressEvent)
}

// EventPublisher relays progress events to an external bus.
type EventPublisher interface {
	PublishProgress(ctx context.Context, event domain.ProgressEvent) error
}

// RequestQueue carries analysis submissions between nodes.
type RequestQueue interface {
	PublishAnalysisRequest(ctx context.Context, sessionID string, req domain.AnalysisRequest) error
	SubscribeAnalysisRequests(ctx context.Context, handler func(context.Context, string, domain.AnalysisRequest) error) error
}

// Chunker splits text into windows small enough for one model call.
type Chunker interface {
	Split(text string) []string
}

// LoadMonitor reports the current system load percentage. ok is false when
// the metric is unavailable.
type LoadMonitor interface {
	CPUPercent(ctx context.Context) (percent float64, ok bool)
}

// ReportRenderer renders results into a downloadable report.
type ReportRenderer interface {
	Render(ctx context.Context, results *domain.ComplianceResults) ([]byte, error)
	ContentType() string
}

// CallbackNotifier delivers the terminal event to a client-provided URL.
type CallbackNotifier interface {
	Notify(ctx context.Context, callbackURL string, event domain.ProgressEvent) error
}

package ports

import (
	"context"
	"io"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

// DocumentUploader is the inbound contract for storing proposal files.
type DocumentUploader interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.UploadedDocument, error)
}

// AnalysisService is the inbound contract used by the HTTP, MCP and NATS adapters.
type AnalysisService interface {
	Start(ctx context.Context, req domain.AnalysisRequest) (*domain.Session, error)
	Status(ctx context.Context, sessionID string) (*domain.Session, error)
	Results(ctx context.Context, sessionID string) (*domain.ComplianceResults, error)
	Cancel(ctx context.Context, sessionID string) (bool, error)
}

package minio

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

func TestClassifyMinioError(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound, Message: "missing"}
	if err := classifyMinioError("get", missing); !domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}

	unavailable := minio.ErrorResponse{Code: "ServiceUnavailable", StatusCode: http.StatusServiceUnavailable}
	if err := classifyMinioError("get", unavailable); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}

	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	err := classifyMinioError("get", denied)
	if domain.IsKind(err, domain.ErrTemporary) || domain.IsKind(err, domain.ErrDocumentNotFound) {
		t.Fatalf("expected permanent error, got %v", err)
	}

	if err := classifyMinioError("put", errors.New("dial tcp: connection refused")); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected network error to be temporary, got %v", err)
	}
}

func TestContentType(t *testing.T) {
	if got := contentType("uploads/a.pdf"); got != "application/pdf" {
		t.Fatalf("unexpected content type %q", got)
	}
	if got := contentType("blob"); got != "application/octet-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
}

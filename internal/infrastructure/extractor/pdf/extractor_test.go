package pdf

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
)

type storageStub struct {
	objects map[string][]byte
}

func (s *storageStub) Save(context.Context, string, io.Reader) error { return nil }

func (s *storageStub) Open(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func TestExtractPassesThroughUTF8Text(t *testing.T) {
	ex := NewExtractor(&storageStub{objects: map[string][]byte{"k": []byte("  Section L instructions \n")}})

	text, metadata, err := ex.Extract(context.Background(), "k")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "Section L instructions" {
		t.Fatalf("unexpected text %q", text)
	}
	if metadata["extraction_method"] != "plaintext" {
		t.Fatalf("unexpected metadata %v", metadata)
	}
}

func TestExtractRejectsUnknownBinary(t *testing.T) {
	ex := NewExtractor(&storageStub{objects: map[string][]byte{"k": {0xff, 0xfe, 0x00, 0x81}}})

	_, _, err := ex.Extract(context.Background(), "k")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExtractRejectsMalformedPDF(t *testing.T) {
	ex := NewExtractor(&storageStub{objects: map[string][]byte{"k": []byte("%PDF-1.7\nnot really a pdf")}})

	_, _, err := ex.Extract(context.Background(), "k")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExtractPropagatesMissingObject(t *testing.T) {
	ex := NewExtractor(&storageStub{objects: map[string][]byte{}})

	_, _, err := ex.Extract(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "open source document") {
		t.Fatalf("expected open error, got %v", err)
	}
}

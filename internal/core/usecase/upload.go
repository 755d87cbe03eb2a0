package usecase

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

const uploadPrefix = "uploads/"

type UploadDocumentUseCase struct {
	storage ports.ObjectStorage
}

func NewUploadDocumentUseCase(storage ports.ObjectStorage) *UploadDocumentUseCase {
	return &UploadDocumentUseCase{storage: storage}
}

func (uc *UploadDocumentUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
) (*domain.UploadedDocument, error) {
	if !isPDF(filename, mimeType) {
		return nil, fmt.Errorf("%w: only PDF files are supported", domain.ErrInvalidInput)
	}

	buffered := bufio.NewReader(body)
	if _, err := buffered.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file", domain.ErrInvalidInput)
		}
		return nil, fmt.Errorf("read upload: %w", err)
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s%s_%s", uploadPrefix, id, sanitizeFilename(filename))
	startedAt := time.Now().UTC()

	counter := &countingReader{r: buffered}
	if err := uc.storage.Save(ctx, storageKey, counter); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	return &domain.UploadedDocument{
		ID:          id,
		Filename:    filename,
		FileSize:    counter.n,
		MimeType:    "application/pdf",
		Status:      "completed",
		Progress:    100,
		StorageKey:  storageKey,
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
	}, nil
}

func isPDF(filename, mimeType string) bool {
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(mimeType), "application/pdf")
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "document.pdf"
	}
	return base
}

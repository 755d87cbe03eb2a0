package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/proposal-compliance/internal/core/domain"
	"github.com/kirillkom/proposal-compliance/internal/core/ports"
)

const maxDocumentBytes = 50 << 20

var pdfMagic = []byte("%PDF-")

// Extractor reads stored proposals and returns their plain text. PDFs are
// parsed page by page; UTF-8 text objects are passed through.
type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Extract(ctx context.Context, storageKey string) (string, map[string]any, error) {
	reader, err := e.storage.Open(ctx, storageKey)
	if err != nil {
		return "", nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, maxDocumentBytes+1))
	if err != nil {
		return "", nil, domain.WrapError(domain.ErrTemporary, "read source document", err)
	}
	if len(raw) > maxDocumentBytes {
		return "", nil, fmt.Errorf("%w: document exceeds %d bytes", domain.ErrInvalidInput, maxDocumentBytes)
	}

	if bytes.HasPrefix(bytes.TrimLeft(raw, "\r\n\t "), pdfMagic) {
		return extractPDF(raw)
	}

	if !utf8.Valid(raw) {
		return "", nil, fmt.Errorf("%w: unsupported binary format: %s", domain.ErrInvalidInput, storageKey)
	}
	text := strings.TrimSpace(string(raw))
	return text, map[string]any{
		"extraction_method": "plaintext",
		"file_size":         len(raw),
		"page_count":        1,
	}, nil
}

func extractPDF(raw []byte) (text string, metadata map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed pdf: %v", domain.ErrInvalidInput, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", nil, fmt.Errorf("%w: open pdf: %v", domain.ErrInvalidInput, err)
	}

	pageCount := reader.NumPage()
	fonts := make(map[string]*pdf.Font)
	var (
		builder    strings.Builder
		extracted  int
		emptyPages []int
	)
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			emptyPages = append(emptyPages, i)
			continue
		}
		pageText, err := page.GetPlainText(fonts)
		if err != nil || strings.TrimSpace(pageText) == "" {
			emptyPages = append(emptyPages, i)
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		fmt.Fprintf(&builder, "--- Page %d ---\n", i)
		builder.WriteString(strings.TrimSpace(pageText))
		extracted++
	}

	text = builder.String()
	if extracted == 0 {
		return "", nil, fmt.Errorf("%w: no extractable text in %d pages", domain.ErrInvalidInput, pageCount)
	}

	return text, map[string]any{
		"extraction_method": "pdf",
		"file_size":         len(raw),
		"page_count":        pageCount,
		"pages_extracted":   extracted,
		"empty_pages":       emptyPages,
		"word_count":        len(strings.Fields(text)),
	}, nil
}

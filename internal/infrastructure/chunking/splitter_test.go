package chunking

import (
	"strings"
	"testing"
)

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	s := NewSplitter(100, 10)
	chunks := s.Split("  Section L. Instructions to offerors.  ")
	if len(chunks) != 1 || chunks[0] != "Section L. Instructions to offerors." {
		t.Fatalf("unexpected chunks %q", chunks)
	}
	if got := s.Split(""); got != nil {
		t.Fatalf("expected nil for empty text, got %q", got)
	}
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	text := strings.Repeat("a", 30) + ". " + strings.Repeat("b", 40)
	chunks := NewSplitter(50, 0).Split(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	if !strings.HasSuffix(chunks[0], ".") || strings.Contains(chunks[0], "b") {
		t.Fatalf("first chunk should end at the sentence break: %q", chunks[0])
	}
}

func TestSplitCoversTextWithOverlap(t *testing.T) {
	text := strings.Repeat("x", 250)
	chunks := NewSplitter(100, 20).Split(text)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 100 {
			t.Fatalf("chunk %d exceeds size: %d", i, len(chunk))
		}
	}
}

func TestNewSplitterNormalizesOverlap(t *testing.T) {
	s := NewSplitter(100, 200)
	if s.Overlap != 25 {
		t.Fatalf("expected overlap clamp to 25, got %d", s.Overlap)
	}
	if NewSplitter(0, -1).ChunkSize != 8000 {
		t.Fatalf("expected default chunk size")
	}
}

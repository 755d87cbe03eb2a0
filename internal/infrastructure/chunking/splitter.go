// Package chunking cuts long proposal text into overlapping windows that fit
// a model prompt.
package chunking

import "strings"

type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 8000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// Split returns windows of at most ChunkSize runes. A window ends at the
// last paragraph or sentence break in its second half when one exists, so
// findings are less likely to straddle two prompts.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	out := make([]string, 0, len(runes)/s.ChunkSize+1)
	for start := 0; start < len(runes); {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else if cut := breakPoint(runes[start:end]); cut > 0 {
			end = start + cut
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}

		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func breakPoint(window []rune) int {
	half := len(window) / 2
	for i := len(window) - 1; i >= half; i-- {
		if window[i] == '\n' && i > 0 && window[i-1] == '\n' {
			return i + 1
		}
	}
	for i := len(window) - 1; i >= half; i-- {
		switch window[i] {
		case '.', '!', '?':
			if i+1 < len(window) && (window[i+1] == ' ' || window[i+1] == '\n') {
				return i + 1
			}
		}
	}
	return 0
}

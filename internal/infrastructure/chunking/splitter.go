package chunking

import (
	"strings"

	"github.com/kbstack/kbsearch/internal/core/domain"
)

const (
	defaultChunkSize = 1500
	defaultOverlap   = 200
)

// Splitter cuts extracted text into overlapping chunks, preferring sentence
// or line boundaries past the midpoint of the window so citations do not
// start mid-sentence. Page attribution is preserved by splitting per page.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
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

func (s *Splitter) Split(extraction domain.Extraction) []domain.Chunk {
	pages := extraction.Pages
	if len(pages) == 0 && extraction.Text != "" {
		pages = []domain.PageText{{Number: 1, Text: extraction.Text}}
	}

	var out []domain.Chunk
	ordinal := 0
	for _, page := range pages {
		for _, text := range s.splitText(page.Text) {
			out = append(out, domain.Chunk{
				Ordinal: ordinal,
				Page:    page.Number,
				Text:    text,
			})
			ordinal++
		}
	}
	return out
}

func (s *Splitter) splitText(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= s.ChunkSize {
		return []string{string(runes)}
	}

	var out []string
	start := 0
	for start < len(runes) {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else if cut := boundaryCut(runes[start:end]); cut > s.ChunkSize/2 {
			end = start + cut + 1
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

// boundaryCut returns the index of the last sentence or line boundary in the
// window, or -1 when there is none.
func boundaryCut(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' || window[i] == '\n' {
			return i
		}
	}
	return -1
}

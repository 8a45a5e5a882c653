package channels

import (
	"strings"
	"unicode"
)

// Chunker splits long replies into platform-sized pieces, preferring
// paragraph breaks, then line breaks, then sentence ends, then spaces.
type Chunker struct {
	MaxSize int
}

// NewChunker creates a chunker; maxSize <= 0 defaults to 2000 (the
// Discord limit, the smallest among the builtin adapters).
func NewChunker(maxSize int) *Chunker {
	if maxSize <= 0 {
		maxSize = 2000
	}
	return &Chunker{MaxSize: maxSize}
}

// Chunk splits text into pieces no longer than MaxSize.
func (c *Chunker) Chunk(text string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= c.MaxSize {
		return []string{text}
	}

	var chunks []string
	remaining := text
	for len(remaining) > c.MaxSize {
		idx := c.breakPoint(remaining)
		chunk := strings.TrimRightFunc(remaining[:idx], unicode.IsSpace)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		remaining = strings.TrimLeftFunc(remaining[idx:], unicode.IsSpace)
	}
	if remaining = strings.TrimSpace(remaining); remaining != "" {
		chunks = append(chunks, remaining)
	}
	return chunks
}

func (c *Chunker) breakPoint(text string) int {
	window := text[:c.MaxSize]

	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx
	}
	if idx := strings.LastIndex(window, "\n"); idx > 0 {
		return idx
	}
	best := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if idx := strings.LastIndex(window, sep); idx > best {
			best = idx + len(sep) - 1
		}
	}
	if best > 0 {
		return best
	}
	if idx := strings.LastIndex(window, " "); idx > 0 {
		return idx
	}
	return c.MaxSize
}

// Package chunker splits extracted pages into overlapping, page-scoped windows.
//
// Windows are taken over the raw page text and trimmed afterwards, so
// leading whitespace on a page counts toward the first window. Windows that
// are blank after trimming are dropped.
package chunker

import (
	"fmt"
	"strings"

	"manual-rag/internal/models"
)

// Chunk splits every page into windows of at most size runes, consecutive
// windows sharing overlap runes, and numbers them across the whole document.
// Windows never cross a page boundary.
func Chunk(pages []models.Page, source string, size, overlap int) ([]models.Chunk, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	for _, page := range pages {
		for _, text := range chunkContent(page.Content, size, overlap) {
			chunks = append(chunks, models.Chunk{
				Text:       text,
				PageNumber: page.PageNumber,
				Source:     source,
				ChunkIndex: len(chunks),
			})
		}
	}
	return chunks, nil
}

func validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", models.ErrChunking, size)
	}
	if overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: overlap %d must be in [0, %d)", models.ErrChunking, overlap, size)
	}
	return nil
}

// chunkContent slides a window of maxChars runes over content, stepping back
// overlapChars from the previous end each time. Callers validate the sizes.
func chunkContent(content string, maxChars, overlapChars int) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	runes := []rune(content)
	contentLen := len(runes)
	if contentLen <= maxChars {
		return []string{strings.TrimSpace(content)}
	}

	var chunks []string
	start := 0
	for {
		end := min(start+maxChars, contentLen)
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == contentLen {
			break
		}
		// overlap < maxChars, so start always moves forward
		start = end - overlapChars
	}
	return chunks
}

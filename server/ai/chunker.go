package ai

import (
	"strings"
	"unicode"
)

const (
	// ChunkSize is the maximum character count per chunk.
	ChunkSize = 500
	// ChunkOverlap is the character count overlap between chunks.
	ChunkOverlap = 50
)

// ChunkDocument splits a long document into multiple chunks for embedding.
// It preserves paragraph boundaries when possible.
func ChunkDocument(content string) []string {
	if len(content) <= ChunkSize {
		return []string{content}
	}

	paragraphs := splitParagraphs(content)

	var chunks []string
	var currentChunk strings.Builder

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if currentChunk.Len()+len(para) > ChunkSize && currentChunk.Len() > 0 {
			chunks = append(chunks, currentChunk.String())

			currentChunk.Reset()
			overlapText := getOverlapText(chunks, ChunkOverlap)
			if overlapText != "" {
				currentChunk.WriteString(overlapText)
				currentChunk.WriteString("\n\n")
			}
		}

		if currentChunk.Len() > 0 {
			currentChunk.WriteString("\n\n")
		}
		currentChunk.WriteString(para)

		// Force-split paragraphs longer than a whole chunk.
		for currentChunk.Len() > ChunkSize {
			text := currentChunk.String()
			breakPoint := findBreakPoint(text[:ChunkSize])
			chunks = append(chunks, text[:breakPoint])

			remaining := text[breakPoint:]
			currentChunk.Reset()
			currentChunk.WriteString(remaining)
		}
	}

	if currentChunk.Len() > 0 {
		chunks = append(chunks, currentChunk.String())
	}

	return chunks
}

func splitParagraphs(content string) []string {
	lines := strings.FieldsFunc(content, func(r rune) bool {
		return r == '\n' || r == '\r'
	})

	var result []string
	var current strings.Builder

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
			continue
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// getOverlapText returns the tail of the previous chunk for overlap.
func getOverlapText(chunks []string, overlapSize int) string {
	if len(chunks) == 0 {
		return ""
	}

	lastChunk := chunks[len(chunks)-1]
	if len(lastChunk) <= overlapSize {
		return lastChunk
	}

	overlapText := lastChunk[len(lastChunk)-overlapSize:]
	if idx := strings.IndexAny(overlapText, " \t"); idx > 0 {
		return overlapText[idx+1:]
	}

	return overlapText
}

// findBreakPoint finds a sentence or word boundary to split at.
func findBreakPoint(text string) int {
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] == '.' || text[i] == '!' || text[i] == '?' {
			if i == len(text)-1 || unicode.IsSpace(rune(text[i+1])) {
				return i + 1
			}
		}
	}

	for i := len(text) - 1; i >= len(text)/2; i-- {
		if unicode.IsSpace(rune(text[i])) {
			return i
		}
	}

	return len(text)
}

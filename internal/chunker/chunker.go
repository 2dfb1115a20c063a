// Package chunker splits extracted document text into overlapping segments
// sized for embedding. Splitting prefers word boundaries: each window is cut
// at its last space when one exists, and the cursor advances by the emitted
// length minus the overlap, so the overlap is measured against what was
// actually emitted rather than the nominal chunk size.
package chunker

import (
	"fmt"
	"strings"
)

// Defaults used by the ingestion pipeline.
const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultOverlap is the number of characters shared between consecutive chunks.
	DefaultOverlap = 200
)

// Split divides text into overlapping chunks of at most chunkSize characters.
// It is a pure function: identical inputs always produce the identical
// sequence, and the concatenation of chunks (ignoring overlap) covers every
// character of the input. Requires 0 <= overlap < chunkSize; an overlap equal
// to or larger than the chunk size would never terminate.
func Split(text string, chunkSize, overlap int) ([]string, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunker: chunk size must be >= 1, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("chunker: overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	if text == "" {
		return nil, nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		if len(text)-start <= chunkSize {
			chunks = append(chunks, text[start:])
			break
		}

		window := text[start : start+chunkSize]
		cut := strings.LastIndexByte(window, ' ')
		if cut <= overlap {
			// Either no word boundary in the window, or the boundary sits so
			// early that the cursor could not move forward past it. Hard
			// break at the full width so every character is still covered.
			chunks = append(chunks, window)
			start += chunkSize - overlap
		} else {
			chunks = append(chunks, window[:cut])
			// Advance relative to the emitted length, not the window width.
			start += cut - overlap
		}
		if start < 0 {
			start = 0
		}
	}

	return chunks, nil
}

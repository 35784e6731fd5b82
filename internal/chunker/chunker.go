// Package chunker splits normalized text into overlapping bounded-size
// segments for embedding.
//
// Sizes are given in token-like units and converted to a character budget
// with an approximate multiplier; this is a heuristic, not an exact token
// count. Splitting prefers the coarsest structural separator available:
// paragraph, then line, then sentence, then word, then character.
package chunker

import (
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/textsplitter"
)

// CharsPerUnit is the approximate number of characters per sizing unit.
const CharsPerUnit = 4

// separators in descending structural priority.
var separators = []string{"\n\n", "\n", ". ", " ", ""}

// Common errors.
var (
	// ErrInvalidParams indicates unusable size parameters.
	ErrInvalidParams = errors.New("invalid chunking parameters")

	// ErrChunking indicates the splitter could not make progress.
	ErrChunking = errors.New("chunking failed")
)

// Chunker produces ordered overlapping text segments.
type Chunker struct {
	chunkSize int
	overlap   int
	splitter  textsplitter.RecursiveCharacter
}

// New creates a Chunker. chunkSize and overlap are in token-like units;
// overlap must be smaller than chunkSize.
func New(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidParams, chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap cannot be negative, got %d", ErrInvalidParams, overlap)
	}
	if overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than chunk size %d", ErrInvalidParams, overlap, chunkSize)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize*CharsPerUnit),
		textsplitter.WithChunkOverlap(overlap*CharsPerUnit),
		textsplitter.WithSeparators(separators),
		textsplitter.WithLenFunc(func(s string) int { return len(s) }),
	)

	return &Chunker{
		chunkSize: chunkSize,
		overlap:   overlap,
		splitter:  splitter,
	}, nil
}

// Split produces the ordered chunk sequence for a text. The slice index
// of each chunk is its stable chunk_index. Each chunk after the first
// repeats up to the configured overlap of the preceding chunk's tail.
func (c *Chunker) Split(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}

	chunks, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChunking, err)
	}
	return chunks, nil
}

// MaxChunkChars returns the derived per-chunk character budget.
func (c *Chunker) MaxChunkChars() int {
	return c.chunkSize * CharsPerUnit
}

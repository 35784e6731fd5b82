package chunker

import (
	"errors"
	"strings"
	"testing"
)

func TestNew_InvalidParams(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
	}{
		{name: "zero size", chunkSize: 0, overlap: 0},
		{name: "negative size", chunkSize: -1, overlap: 0},
		{name: "negative overlap", chunkSize: 100, overlap: -5},
		{name: "overlap equals size", chunkSize: 100, overlap: 100},
		{name: "overlap exceeds size", chunkSize: 100, overlap: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.chunkSize, tt.overlap)
			if !errors.Is(err, ErrInvalidParams) {
				t.Errorf("New(%d, %d) error = %v, want ErrInvalidParams", tt.chunkSize, tt.overlap, err)
			}
		})
	}
}

func TestSplit_Empty(t *testing.T) {
	c, err := New(2000, 200)
	if err != nil {
		t.Fatal(err)
	}
	chunks, err := c.Split("")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 0 {
		t.Errorf("Split(\"\") = %d chunks, want 0", len(chunks))
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	c, err := New(2000, 200)
	if err != nil {
		t.Fatal(err)
	}

	text := "Revenue was $5M in Q1."
	chunks, err := c.Split(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Split() = %d chunks, want 1", len(chunks))
	}
	if chunks[0] != text {
		t.Errorf("chunk = %q, want %q", chunks[0], text)
	}
}

func TestSplit_RespectsCharBudget(t *testing.T) {
	c, err := New(50, 10)
	if err != nil {
		t.Fatal(err)
	}

	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("The quick brown fox jumps over the lazy dog. ")
	}

	chunks, err := c.Split(sb.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > c.MaxChunkChars() {
			t.Errorf("chunk %d has %d chars, budget is %d", i, len(chunk), c.MaxChunkChars())
		}
	}
}

func TestSplit_ContentPreserved(t *testing.T) {
	c, err := New(50, 10)
	if err != nil {
		t.Fatal(err)
	}

	text := strings.TrimSpace(strings.Repeat("Quarterly revenue grew by twelve percent year over year. ", 30))
	chunks, err := c.Split(text)
	if err != nil {
		t.Fatal(err)
	}

	// Every word of the input must appear in the chunk sequence, and
	// consecutive chunks overlap so no sentence is lost at a boundary.
	joined := strings.Join(chunks, " ")
	for _, word := range strings.Fields(text) {
		if !strings.Contains(joined, word) {
			t.Fatalf("word %q missing from chunk output", word)
		}
	}
}

func TestSplit_OverlapCarriesTail(t *testing.T) {
	c, err := New(50, 20)
	if err != nil {
		t.Fatal(err)
	}

	text := strings.TrimSpace(strings.Repeat("Alpha beta gamma delta epsilon zeta eta theta. ", 20))
	chunks, err := c.Split(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// Some suffix words of each chunk should reappear at the start of
	// the next chunk.
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1])
		if len(prevWords) == 0 {
			continue
		}
		tail := prevWords[len(prevWords)-1]
		if !strings.Contains(chunks[i], tail) {
			t.Errorf("chunk %d does not repeat tail %q of chunk %d", i, tail, i-1)
		}
	}
}

func TestSplit_PrefersSentenceBoundaries(t *testing.T) {
	c, err := New(15, 0)
	if err != nil {
		t.Fatal(err)
	}

	text := "First sentence here. Second sentence here. Third sentence here."
	chunks, err := c.Split(text)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if strings.Contains(chunk, "sentenc ") || strings.HasSuffix(chunk, "sentenc") {
			t.Errorf("chunk %d split mid-word: %q", i, chunk)
		}
	}
}

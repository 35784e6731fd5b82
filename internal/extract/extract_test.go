package extract

import (
	"errors"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "whitespace only", input: "  \n\t ", want: ""},
		{name: "internal whitespace collapsed", input: "Revenue  was\t$5M", want: "Revenue was $5M"},
		{name: "newlines collapsed", input: "line one\n\n\n\nline two", want: "line one line two"},
		{name: "null bytes stripped", input: "a\x00b", want: "a b"},
		{name: "trimmed", input: "  Revenue was $5M in Q1.  ", want: "Revenue was $5M in Q1."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.input); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestPDFText_NotAPDF(t *testing.T) {
	e := NewExtractor(nil)

	_, err := e.PDFText([]byte("this is not a pdf"))
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("PDFText() error = %v, want ErrUnreadable", err)
	}
}

func TestPDFText_Empty(t *testing.T) {
	e := NewExtractor(nil)

	_, err := e.PDFText(nil)
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("PDFText(nil) error = %v, want ErrUnreadable", err)
	}
}

package core

import (
	"strings"
	"testing"
)

func TestNormalizeWhitespace(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already clean", "Income tax", "Income tax"},
		{"runs and newlines", "  Income\n\n\ttax   return ", "Income tax return"},
		{"only whitespace", " \n\t ", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeWhitespace(tt.input); got != tt.want {
				t.Errorf("NormalizeWhitespace(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncateForEmbedding(t *testing.T) {
	short := strings.Repeat("a", MaxEmbeddingInput)
	if got := TruncateForEmbedding(short); got != short {
		t.Errorf("text at the limit should be untouched, got length %d", len(got))
	}

	long := strings.Repeat("b", MaxEmbeddingInput+50)
	got := TruncateForEmbedding(long)
	if len(got) != MaxEmbeddingInput+3 {
		t.Errorf("truncated length = %d, want %d", len(got), MaxEmbeddingInput+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated text should end with marker")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("abcdef", 10); got != "abcdef" {
		t.Errorf("Truncate() = %q, want unchanged", got)
	}
	if got := Truncate("abcdefghij", 6); got != "abc..." {
		t.Errorf("Truncate() = %q, want %q", got, "abc...")
	}
	if got := Truncate("abcdefghij", 2); got != "ab" {
		t.Errorf("Truncate() = %q, want %q", got, "ab")
	}
}

func TestCombinedText(t *testing.T) {
	chunk := &ChunkRecord{
		ValidatedRecord: ValidatedRecord{
			PageRecord: PageRecord{
				Title:   "Personal Income Tax Information (Part 1/2)",
				Content: "full page content",
			},
			PageType:   PageTypePersonal,
			TaxYear:    "2024",
			FormNumber: "T1",
		},
		ChunkText: "Personal income tax information",
	}

	got := CombinedText(chunk)
	want := "Title: Personal Income Tax Information (Part 1/2) | Type: personal | Tax Year: 2024 | Form: T1 | Content: Personal income tax information"
	if got != want {
		t.Errorf("CombinedText() =\n%q\nwant\n%q", got, want)
	}
}

func TestCombinedText_OmitsEmptyParts(t *testing.T) {
	chunk := &ChunkRecord{
		ValidatedRecord: ValidatedRecord{
			PageRecord: PageRecord{Title: "CRA", Content: "Revenue agency overview"},
			PageType:   PageTypeGeneral,
		},
	}

	got := CombinedText(chunk)
	want := "Title: CRA | Type: general | Content: Revenue agency overview"
	if got != want {
		t.Errorf("CombinedText() = %q, want %q", got, want)
	}
}

package strings

import (
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxLen   int
		expected string
	}{
		{"short title unchanged", "Invoice", 10, "Invoice"},
		{"exact length unchanged", "Invoice", 7, "Invoice"},
		{"long title cut", "Quarterly tax return 2026", 15, "Quarterly ta..."},
		{"newlines flattened", "Lease\nagreement", 20, "Lease agreement"},
		{"crlf and tabs flattened", "Lease\r\n\tagreement", 20, "Lease agreement"},
		{"surrounding space trimmed", "  scan.pdf  ", 20, "scan.pdf"},
		{"whitespace only", " \n\t ", 10, ""},
		{"empty", "", 10, ""},
		{"multibyte runes kept whole", "Überweisung März", 8, "Überw..."},
		{"maxLen clamped", "receipt", 1, "r..."},
		{"negative maxLen clamped", "receipt", -3, "r..."},
		{"short string under clamp", "ok", 2, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Truncate(tt.input, tt.maxLen)
			if result != tt.expected {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
			}
		})
	}
}

func TestTruncate_CountsRunes(t *testing.T) {
	result := Truncate("日本語のテスト文書", 5)
	if !utf8.ValidString(result) {
		t.Fatalf("result %q is not valid UTF-8", result)
	}
	if n := utf8.RuneCountInString(result); n != 5 {
		t.Errorf("expected 5 runes, got %d (%q)", n, result)
	}
}

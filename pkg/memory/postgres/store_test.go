package postgres

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"short text kept whole", "tell me about dreams", "tell me about dreams"},
		{"surrounding whitespace trimmed", "  hello there  ", "hello there"},
		{"empty input", "", ""},
		{
			"long text cut at a word boundary",
			"this is a rather long opening utterance that should be cut down to a short title",
			"this is a rather long opening utterance that should be cut…",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveTitle(tt.text); got != tt.want {
				t.Errorf("deriveTitle(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestDeriveTitleMultibyteRunes(t *testing.T) {
	text := strings.Repeat("ü", 80)
	got := deriveTitle(text)
	if !utf8.ValidString(got) {
		t.Fatalf("title %q is not valid UTF-8", got)
	}
	if n := len([]rune(got)); n != 61 {
		t.Fatalf("title length = %d runes, want 60 + ellipsis", n)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("title %q should end with an ellipsis", got)
	}
}

func TestDeriveTitleUnbreakableWord(t *testing.T) {
	text := strings.Repeat("a", 80)
	got := deriveTitle(text)
	if len([]rune(got)) != 61 {
		t.Fatalf("title length = %d runes, want 60 + ellipsis", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("title %q should end with an ellipsis", got)
	}
}

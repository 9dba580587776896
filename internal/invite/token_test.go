package invite

import (
	"strings"
	"testing"
)

func TestNewTokenStringFormat(t *testing.T) {
	tok, err := NewTokenString()
	if err != nil {
		t.Fatalf("NewTokenString: %v", err)
	}
	if !strings.HasPrefix(tok, "inv_") {
		t.Fatalf("expected inv_ prefix, got %q", tok)
	}
	if len(tok) != 36 {
		t.Fatalf("expected 36 chars, got %d (%q)", len(tok), tok)
	}
	for _, c := range tok[4:] {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("non-hex character %q in %q", c, tok)
		}
	}
}

func TestNewTokenStringUniqueness(t *testing.T) {
	a, err := NewTokenString()
	if err != nil {
		t.Fatalf("NewTokenString: %v", err)
	}
	b, err := NewTokenString()
	if err != nil {
		t.Fatalf("NewTokenString: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct tokens")
	}
}

package auth

import "testing"

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("alice@example.com", "alice")
	b := Fingerprint("alice@example.com", "alice")
	if a != b {
		t.Fatalf("same inputs produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("fingerprint length = %d, want 64", len(a))
	}
	for _, c := range a {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("fingerprint contains non-hex character %q", c)
		}
	}
}

func TestFingerprintDistinct(t *testing.T) {
	base := Fingerprint("alice@example.com", "alice")
	if Fingerprint("bob@example.com", "alice") == base {
		t.Fatal("different email produced same fingerprint")
	}
	if Fingerprint("alice@example.com", "alicia") == base {
		t.Fatal("different username produced same fingerprint")
	}
	if Fingerprint("", "alice") == base {
		t.Fatal("empty email produced same fingerprint as non-empty")
	}
}

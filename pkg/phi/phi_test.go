package phi

import (
	"strings"
	"testing"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash("PT-12345")
	b := Hash("PT-12345")
	if a != b {
		t.Fatalf("same input hashed differently: %q vs %q", a, b)
	}
}

func TestHashLength(t *testing.T) {
	h := Hash("PT-12345")
	if len(h) != HashLength {
		t.Fatalf("hash length = %d, want %d", len(h), HashLength)
	}
}

func TestHashNotInput(t *testing.T) {
	h := Hash("PT-12345")
	if strings.Contains(h, "PT-12345") {
		t.Fatalf("hash %q contains the raw identifier", h)
	}
}

func TestHashEmpty(t *testing.T) {
	if got := Hash(""); got != "EMPTY" {
		t.Fatalf("Hash(\"\") = %q, want EMPTY", got)
	}
}

func TestHashDistinct(t *testing.T) {
	if Hash("PT-1") == Hash("PT-2") {
		t.Fatal("distinct inputs produced the same hash")
	}
}

func TestScrub(t *testing.T) {
	tests := []struct {
		name  string
		input string
		leak  string
	}{
		{"ssn", "patient SSN is 123-45-6789 per intake", "123-45-6789"},
		{"mrn", "see MRN-1234567 for history", "1234567"},
		{"email", "contact jane.doe@example.com for follow-up", "jane.doe@example.com"},
		{"phone", "call 555-867-5309 to confirm", "555-867-5309"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Scrub(tt.input)
			if strings.Contains(out, tt.leak) {
				t.Fatalf("Scrub(%q) = %q, still contains %q", tt.input, out, tt.leak)
			}
		})
	}
}

func TestScrubCleanInputUnchanged(t *testing.T) {
	in := "conversation completed in 3 turns"
	if out := Scrub(in); out != in {
		t.Fatalf("Scrub changed clean input: %q", out)
	}
}

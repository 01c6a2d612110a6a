package randx

import (
	"strings"
	"testing"
)

func TestInviteCodeShape(t *testing.T) {
	seen := make(map[string]struct{})

	for range 200 {
		code, err := InviteCode()
		if err != nil {
			t.Fatalf("InviteCode failed: %v", err)
		}
		if !IsValidInviteCode(code) {
			t.Fatalf("generated code %q is not valid", code)
		}
		if code != strings.ToUpper(code) {
			t.Fatalf("generated code %q is not upper case", code)
		}
		seen[code] = struct{}{}
	}

	if len(seen) < 190 {
		t.Errorf("expected mostly unique codes, got %d distinct out of 200", len(seen))
	}
}

func TestIsValidInviteCode(t *testing.T) {
	cases := map[string]bool{
		"ABC123":  true,
		"abc123":  false,
		"ABC12":   false,
		"ABC1234": false,
		"ABC-12":  false,
		"":        false,
	}

	for code, want := range cases {
		if got := IsValidInviteCode(code); got != want {
			t.Errorf("IsValidInviteCode(%q) = %v, want %v", code, got, want)
		}
	}

	if got := NormalizeInviteCode("  abc123 "); got != "ABC123" {
		t.Errorf("NormalizeInviteCode returned %q", got)
	}
}

func TestNormalizeID(t *testing.T) {
	id := NewID()

	upper := strings.ToUpper(id)
	got, ok := NormalizeID(" " + upper + " ")
	if !ok {
		t.Fatalf("NormalizeID rejected %q", upper)
	}
	if got != id {
		t.Errorf("expected %q, got %q", id, got)
	}

	if _, ok := NormalizeID("not-a-uuid"); ok {
		t.Error("NormalizeID accepted an invalid id")
	}
}

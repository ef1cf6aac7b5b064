package cache

import (
	"testing"
)

func TestDeriveKeyIgnoresWhitespace(t *testing.T) {
	t.Parallel()

	want := DeriveKey("a b", "V")
	for _, text := range []string{"a  b", " a b ", "a\tb", "\n a \n\n b\t"} {
		if got := DeriveKey(text, "V"); got != want {
			t.Fatalf("DeriveKey(%q) = %s, want %s", text, got, want)
		}
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	t.Parallel()

	a := DeriveKey("The quick brown fox.", "en-US-AriaNeural")
	b := DeriveKey("The quick brown fox.", "en-US-AriaNeural")
	if a != b {
		t.Fatalf("expected identical keys, got %s and %s", a, b)
	}
	if !validKey(string(a)) {
		t.Fatalf("derived key %q is not a valid key", a)
	}
}

func TestDeriveKeyVoicesDiffer(t *testing.T) {
	t.Parallel()

	voices := []string{
		"en-US-AriaNeural", "en-US-GuyNeural", "en-GB-SoniaNeural",
		"de-DE-KatjaNeural", "fr-FR-DeniseNeural", "V", "v", "",
	}
	seen := make(map[Key]string)
	for _, v := range voices {
		k := DeriveKey("Hello world", v)
		if prev, dup := seen[k]; dup {
			t.Fatalf("voices %q and %q derived the same key", prev, v)
		}
		seen[k] = v
	}
}

func TestDeriveKeyEmptyText(t *testing.T) {
	t.Parallel()

	k := DeriveKey("", "V")
	if !validKey(string(k)) {
		t.Fatalf("empty text produced invalid key %q", k)
	}
	if k != DeriveKey("   ", "V") {
		t.Fatalf("whitespace-only text should match empty text")
	}
}

func TestKeyTruncated(t *testing.T) {
	t.Parallel()

	k := DeriveKey("x", "y")
	if got := k.Truncated(); len(got) != truncatedKeyLen || got != string(k)[:truncatedKeyLen] {
		t.Fatalf("unexpected truncated key %q", got)
	}
}

func TestBookIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"abc123-1699999999", "abc123"},
		{"abc123-session-with-dashes", "abc123"},
		{"abc123", "abc123"},
		{"  abc123-x  ", "abc123"},
		{"", DefaultBook},
		{"-orphan", DefaultBook},
	}
	for _, tt := range tests {
		if got := BookIdentity(tt.in); got != tt.want {
			t.Errorf("BookIdentity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeSegment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"en-US-AriaNeural", "en-US-AriaNeural"},
		{"../etc", "..%2Fetc"},
		{"..", "%2E%2E"},
		{".", "%2E"},
		{"", "%"},
		{"a/b\\c", "a%2Fb%5Cc"},
		{"en US", "en%20US"},
		{"50%", "50%25"},
		{"voz ñ", "voz%20%C3%B1"},
	}
	for _, tt := range tests {
		got := safeSegment(tt.in)
		if got != tt.want {
			t.Errorf("safeSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if back := segmentName(got); back != tt.in {
			t.Errorf("segmentName(%q) = %q, want %q", got, back, tt.in)
		}
	}
}

func TestSafeSegmentKeepsNamesApart(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"en US", "en_US"},
		{"a/b", "a_b"},
		{"a%2Fb", "a/b"},
		{"", "_"},
		{"..", "%2E%2E"},
	}
	for _, p := range pairs {
		if safeSegment(p[0]) == safeSegment(p[1]) {
			t.Errorf("safeSegment(%q) and safeSegment(%q) share %q", p[0], p[1], safeSegment(p[0]))
		}
	}
}

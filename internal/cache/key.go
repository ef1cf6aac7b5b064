package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// DefaultBook is the book identity used when the caller supplies no book key.
const DefaultBook = "default"

// truncatedKeyLen is the number of hex characters reported by TruncatedKey.
const truncatedKeyLen = 12

// Key is the content address of a synthesized chunk: hex SHA-256 of the
// normalized text and the voice.
type Key string

// String returns the full hex key.
func (k Key) String() string { return string(k) }

// Truncated returns the short form of the key used in API responses.
func (k Key) Truncated() string {
	if len(k) <= truncatedKeyLen {
		return string(k)
	}
	return string(k[:truncatedKeyLen])
}

// NormalizeText collapses every whitespace run to a single space and trims
// the ends, so cosmetic differences map to one cache entry.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// DeriveKey maps (text, voice) to a stable Key. It never fails; empty text
// yields a valid key.
func DeriveKey(text, voice string) Key {
	normalized := NormalizeText(text)

	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(voice))

	return Key(hex.EncodeToString(h.Sum(nil)))
}

// BookIdentity strips the per-session suffix from a composite book key of
// the form "<hash>-<session>". An empty key maps to DefaultBook.
func BookIdentity(bookKey string) string {
	bookKey = strings.TrimSpace(bookKey)
	if bookKey == "" {
		return DefaultBook
	}
	id, _, _ := strings.Cut(bookKey, "-")
	if id == "" {
		return DefaultBook
	}
	return id
}

// safeSegment encodes s as a single path segment. Bytes outside
// [A-Za-z0-9._-] become %XX, so distinct inputs never share a directory.
// The empty string becomes a bare "%", which no other input produces.
func safeSegment(s string) string {
	switch s {
	case "":
		return "%"
	case ".":
		return "%2E"
	case "..":
		return "%2E%2E"
	}
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '.', c == '-', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
		}
	}
	return b.String()
}

// segmentName reverses safeSegment. Names it did not produce are returned
// unchanged.
func segmentName(seg string) string {
	if seg == "%" {
		return ""
	}
	name, err := url.PathUnescape(seg)
	if err != nil {
		return seg
	}
	return name
}

// validKey reports whether name looks like a Key produced by DeriveKey.
func validKey(name string) bool {
	if len(name) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(name)
	return err == nil
}

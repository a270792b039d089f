// Package token defines the session token format accepted by the gateway
// and generates tokens for conformance scenarios.
//
// A valid token is exactly 32 characters drawn from 0-9 and A-F. Tokens are
// opaque: the gateway only uses them as keys.
package token

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Length is the exact number of characters in a valid token.
const Length = 32

// Alphabet lists every character a valid token may contain.
const Alphabet = "0123456789ABCDEF"

// Pattern is the regular expression equivalent of IsValid.
// Kept for diagnostics and the contract definition.
const Pattern = `^[0-9A-F]{32}$`

// IsValid reports whether s is a well-formed session token.
// It is total over all strings and has no side effects.
func IsValid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// New returns a fresh valid token.
//
// The token is the 128 bits of a random UUID rendered as uppercase hex,
// which is exactly 32 characters from Alphabet.
func New() string {
	id := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
}

// Source produces tokens. The harness binds scenario aliases through a Source
// so tests can substitute a deterministic one.
type Source interface {
	Next() string
}

// RandomSource is the default Source backed by New.
type RandomSource struct{}

// Next returns a fresh random token.
func (RandomSource) Next() string {
	return New()
}

// MalformedKind names one of the canonical malformed token shapes.
type MalformedKind string

// Malformed token shapes exercised by the validation scenarios.
const (
	MalformedShort     MalformedKind = "short"
	MalformedLong      MalformedKind = "long"
	MalformedLowercase MalformedKind = "lowercase"
	MalformedSpecial   MalformedKind = "special"
	MalformedNonHex    MalformedKind = "nonhex"
	MalformedEmpty     MalformedKind = "empty"
)

// MalformedKinds lists every supported malformed shape in a stable order.
var MalformedKinds = []MalformedKind{
	MalformedShort,
	MalformedLong,
	MalformedLowercase,
	MalformedSpecial,
	MalformedNonHex,
	MalformedEmpty,
}

// Malformed returns a token of the given shape that IsValid rejects.
func Malformed(kind MalformedKind) (string, error) {
	switch kind {
	case MalformedShort:
		return New()[:Length/2], nil
	case MalformedLong:
		return New() + New(), nil
	case MalformedLowercase:
		lower := strings.ToLower(New())
		if !strings.ContainsAny(lower, "abcdef") {
			// All-digit tokens survive lowercasing unchanged.
			lower = "a" + lower[1:]
		}
		return lower, nil
	case MalformedSpecial:
		// 32 characters, but with punctuation mixed in.
		return "ABCD1234!@#$%^&*5678ABCD!@#$%^&*", nil
	case MalformedNonHex:
		return "GHIJKLMNOPQRSTUVWXYZ012345678901", nil
	case MalformedEmpty:
		return "", nil
	default:
		return "", fmt.Errorf("unknown malformed token kind %q", kind)
	}
}

// Package fingerprint derives the deduplication key for a lead from its name and
// phone number. Everything here is pure: the same input always yields the same key.
package fingerprint

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	phonePrefix = "phone:"
	namePrefix  = "name:"

	phoneDigits = 10
)

// Key is a lead fingerprint, either "phone:<10 digits>" or "name:<normalized name>".
// The zero Key means the lead has no usable identity and is exempt from dedup.
type Key string

func (k Key) IsZero() bool { return k == "" }

func (k Key) String() string { return string(k) }

// IsPhone reports whether the key was derived from a phone number.
func (k Key) IsPhone() bool { return strings.HasPrefix(string(k), phonePrefix) }

// Phone returns the 10 digits of a phone key, or "" for any other key.
func (k Key) Phone() string {
	if !k.IsPhone() {
		return ""
	}
	return strings.TrimPrefix(string(k), phonePrefix)
}

// NormalizeText lowercases s, keeps only letters, digits and spaces, and collapses
// runs of whitespace into a single space.
func NormalizeText(s string) string {
	s = strings.ToLower(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return b.String()
}

// NormalizePhone keeps the digits of s, strips a "91" country code from 12-digit
// numbers and a single trunk "0", and returns the last 10 digits.
//
// Longer inputs are truncated from the left, so stray extra digits still produce a
// 10-digit value. Shorter inputs are returned as-is and never form a phone key.
func NormalizePhone(s string) string {
	d := stripPrefixes(digitsOf(s))
	if len(d) > phoneDigits {
		d = d[len(d)-phoneDigits:]
	}
	return d
}

// Compute returns the fingerprint for a lead: phone first, then name, else zero.
//
// A stripped number of exactly 9 or 11 digits is treated as a typo and never
// becomes a phone key; the name is used instead.
func Compute(name, phone string) Key {
	d := stripPrefixes(digitsOf(phone))
	if len(d) == phoneDigits || len(d) > phoneDigits+1 {
		return Key(phonePrefix + d[len(d)-phoneDigits:])
	}
	if n := NormalizeText(name); n != "" {
		return Key(namePrefix + n)
	}
	return ""
}

// Matches reports whether a stored row with the given name and contact carries
// key. A contact of exactly 10 digits is taken as an already normalized phone
// (Key.Phone output), so a kept trunk "0" is not stripped a second time. Any
// other contact is fingerprinted like raw input.
func Matches(key Key, name, contact string) bool {
	if key.IsZero() {
		return false
	}
	if isNormalizedPhone(contact) && key == Key(phonePrefix+contact) {
		return true
	}
	return Compute(name, contact) == key
}

func isNormalizedPhone(s string) bool {
	if len(s) != phoneDigits {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripPrefixes(d string) string {
	if len(d) == 12 && strings.HasPrefix(d, "91") {
		d = d[2:]
	}
	return strings.TrimPrefix(d, "0")
}

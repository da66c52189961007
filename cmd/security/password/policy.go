package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate applies the length and weakness policy. Lengths are measured in
// runes, not bytes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	if c.Policy.RejectVeryWeak && looksVeryWeak(password) {
		return ErrWeakPassword
	}
	return nil
}

// Deliberately minimal: catches single-character padding, short PINs, and a
// handful of perennial favourites. Not a strength estimator.
func looksVeryWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}

	uniform := true
	digitsOnly := true
	var first rune
	for i, r := range s {
		if i == 0 {
			first = r
		} else if r != first {
			uniform = false
		}
		if !unicode.IsDigit(r) {
			digitsOnly = false
		}
	}
	if uniform {
		return true
	}
	if digitsOnly && utf8.RuneCountInString(s) < 12 {
		return true
	}

	switch strings.ToLower(s) {
	case "password", "password123", "123456", "123456789", "qwerty", "qwerty123", "11111111":
		return true
	}
	return false
}

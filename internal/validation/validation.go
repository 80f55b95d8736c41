// Package validation checks user-supplied city names before they reach the cache or provider.
package validation

import (
	"errors"
	"strings"
	"unicode"
)

var (
	// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
	ErrCityEmpty = errors.New("city is required")
	// ErrCityTooShort is returned when the city is below the minimum length.
	ErrCityTooShort = errors.New("city name too short")
	// ErrCityTooLong is returned when the city exceeds the maximum length.
	ErrCityTooLong = errors.New("city name too long")
	// ErrCityInvalidChars is returned when the city contains disallowed characters.
	ErrCityInvalidChars = errors.New("city name contains invalid characters")
)

// ValidateCity trims the input and enforces length bounds (in runes; 0 disables a bound).
// Allowed characters are Unicode letters and digits, space, comma, hyphen, period and
// apostrophe, which covers names like "St. John's" and "Winston-Salem".
// The trimmed city is returned with its original casing; cache keys lowercase it separately.
func ValidateCity(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	switch n := len(r); {
	case n == 0:
		return "", ErrCityEmpty
	case minLen > 0 && n < minLen:
		return "", ErrCityTooShort
	case maxLen > 0 && n > maxLen:
		return "", ErrCityTooLong
	}
	for _, c := range r {
		if !allowedCityRune(c) {
			return "", ErrCityInvalidChars
		}
	}
	return s, nil
}

func allowedCityRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

package phone

import (
	"errors"
	"strings"
)

// ErrInvalidPhone is returned when a raw phone string contains no
// subscriber digits after normalization.
var ErrInvalidPhone = errors.New("invalid phone number")

// Normalize converts a free-form phone string into an ordered list of
// canonical candidate representations, most-canonical first. Different
// gateway deployments accept different renderings of the same number, so
// callers try candidates in order when the gateway signals a
// number-format rejection.
//
// Rules:
//   - punctuation, whitespace and any "+" sign are stripped
//   - a leading "00" is treated as the international prefix
//   - a single leading "0" is replaced with defaultCountryCode; no
//     country code starts with 0, so this holds even after a stray "+"
//   - anything else is assumed to already carry a country code
//
// An empty result, or a result consisting only of the country code,
// fails with ErrInvalidPhone.
func Normalize(raw, defaultCountryCode string) ([]string, error) {
	digits := digitsOnly(raw)
	cc := digitsOnly(defaultCountryCode)

	var intl string
	switch {
	case digits == "":
		return nil, ErrInvalidPhone
	case strings.HasPrefix(digits, "00"):
		intl = strings.TrimPrefix(digits, "00")
	case strings.HasPrefix(digits, "0"):
		intl = cc + strings.TrimPrefix(digits, "0")
	default:
		intl = digits
	}

	if intl == "" || intl == cc {
		return nil, ErrInvalidPhone
	}

	candidates := []string{"+" + intl, intl}
	return dedupe(candidates), nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

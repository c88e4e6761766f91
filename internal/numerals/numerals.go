// Package numerals maps alternate-script decimal digits to Latin digits.
//
// Grade sheets in the wild mix Arabic-Indic and Latin digits within the same
// cell, so Normalize must run before any digit-pattern match or numeric parse.
package numerals

import "strings"

// Normalize returns s with every Arabic-Indic (U+0660..U+0669) and Extended
// Arabic-Indic (U+06F0..U+06F9) digit replaced by its Latin equivalent.
// All other characters pass through unchanged. Normalize is pure, total, and
// idempotent: normalizing an already-normalized string is a no-op.
func Normalize(s string) string {
	if !containsAltDigit(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(normalizeRune(r))
	}
	return b.String()
}

func normalizeRune(r rune) rune {
	switch {
	case r >= 0x0660 && r <= 0x0669: // ٠..٩
		return '0' + (r - 0x0660)
	case r >= 0x06F0 && r <= 0x06F9: // ۰..۹
		return '0' + (r - 0x06F0)
	default:
		return r
	}
}

func containsAltDigit(s string) bool {
	for _, r := range s {
		if (r >= 0x0660 && r <= 0x0669) || (r >= 0x06F0 && r <= 0x06F9) {
			return true
		}
	}
	return false
}

package credential

import "strings"

// ICDigits is the number of digits in a national IC number.
const ICDigits = 12

// DigitsOnly strips every non-digit rune from s, so "980101-01-4321" becomes "980101014321".
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DerivedPassword returns the password implied by ic: its last four digits.
// It returns "" when ic does not carry exactly 12 digits.
func DerivedPassword(ic string) string {
	digits := DigitsOnly(ic)
	if len(digits) != ICDigits {
		return ""
	}
	return digits[len(digits)-4:]
}

// VerifyIC reports whether ic has exactly 12 digits once separators are
// removed and password equals its last four digits. The password is public
// by construction; this is an identity check, not a secret.
func VerifyIC(ic, password string) bool {
	derived := DerivedPassword(ic)
	return derived != "" && password == derived
}

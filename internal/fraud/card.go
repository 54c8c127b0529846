package fraud

import "strings"

// ValidCardNumber reports whether the PAN has a plausible length and
// passes the Luhn checksum.
func ValidCardNumber(number string) bool {
	digits := digitsOf(number)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	return luhn(digits)
}

// MaskCard renders a PAN safe for logs, keeping only the last four digits.
func MaskCard(number string) string {
	digits := digitsOf(number)
	if len(digits) < 4 {
		return "****"
	}
	return "**** **** **** " + digits[len(digits)-4:]
}

func digitsOf(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func luhn(digits string) bool {
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

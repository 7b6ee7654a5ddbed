package directory

import "strings"

// Normalize reduces a phone number to "+" and digits so "+1 (555) 010-0000"
// and "+15550100000" look up the same row. Numbers without a leading "+" keep
// their digits only.
func Normalize(number string) string {
	number = strings.TrimSpace(number)
	if number == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(number))
	for i, r := range number {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

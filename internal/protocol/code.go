package protocol

import "strings"

// CodeLen is the length of a share code including the hyphen.
const CodeLen = 7

// NormalizeCode turns free-form user input into share-code shape: every
// non-alphanumeric character is dropped, letters are uppercased, a hyphen is
// inserted after the third character and the result is capped at CodeLen.
// The result may still be incomplete; check it with ValidCode.
func NormalizeCode(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 3 {
		s = s[:3] + "-" + s[3:]
	}
	if len(s) > CodeLen {
		s = s[:CodeLen]
	}
	return s
}

// ValidCode reports whether code is exactly XXX-YYY with uppercase
// alphanumeric groups.
func ValidCode(code string) bool {
	if len(code) != CodeLen || code[3] != '-' {
		return false
	}
	for i := 0; i < CodeLen; i++ {
		if i == 3 {
			continue
		}
		c := code[i]
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

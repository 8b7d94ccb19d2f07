package registry

import "unicode/utf8"

// truncateUsername cuts s to MaxUsernameLen bytes, backing off so a
// multi-byte rune is never split.
func truncateUsername(s string) string {
	if len(s) <= MaxUsernameLen {
		return s
	}
	n := MaxUsernameLen
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// foldKey lower-cases ASCII letters only, leaving every other byte as is, so
// the key has the same length as s.
func foldKey(s string) string {
	i := 0
	for ; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			break
		}
	}
	if i == len(s) {
		return s
	}
	b := []byte(s)
	for ; i < len(b); i++ {
		if c := b[i]; 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

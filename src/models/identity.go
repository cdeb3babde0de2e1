package models

import "strings"

// SanitizeUserID maps an opaque user identity (usually an email) to a string
// safe for use as a directory name or token filename. Alphanumerics, '.' and
// '_' pass through, '@' becomes "_at_", everything else is dropped. The
// identity is never parsed for meaning beyond this.
func SanitizeUserID(user string) string {
	var b strings.Builder
	b.Grow(len(user) + 3)
	for _, r := range user {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_':
			b.WriteRune(r)
		case r == '@':
			b.WriteString("_at_")
		}
	}
	return b.String()
}

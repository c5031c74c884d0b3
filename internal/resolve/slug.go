package resolve

import "strings"

// MintID builds a canonical entity id of the form "type:slug".
func MintID(entityType, text string) string {
	return strings.ToLower(entityType) + ":" + Slugify(text)
}

// Slugify reduces text to a lowercase underscore-separated slug of its
// alphanumeric runs.
func Slugify(text string) string {
	var b strings.Builder
	lastUnderscore := true // suppress leading underscore
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

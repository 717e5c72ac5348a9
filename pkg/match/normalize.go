// Package match selects remote objects by display-name globs and by
// metadata filters (state, MIME type, size, creation time, id regex).
//
// Globs use doublestar semantics over display names, which are treated
// as slash-separated paths.
package match

import (
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Unescaped backslashes become forward slashes so Windows-style patterns
// match display names recorded from Windows paths. Escaped glob
// metacharacters (\*, \?, \[) are preserved.
//
//	"reports\2024\*.pdf"  → "reports/2024/*.pdf"
//	"reports/file\*.pdf"  → "reports/file\*.pdf"
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			if strings.ContainsRune(globEscapable, next) {
				result.WriteRune('\\')
				result.WriteRune(next)
				i++
				continue
			}
			result.WriteRune('/')
			continue
		}

		if r == '\\' {
			result.WriteRune('/')
			continue
		}

		result.WriteRune(r)
	}

	return result.String()
}

// IsHidden returns true if any slash-separated segment of name starts
// with a dot.
//
//	"notes.txt"         → false
//	".env"              → true
//	"drafts/.scratch.md" → true
//	"notes.txt."        → false
func IsHidden(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if seg != "" && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

// Package match decides which files a directory scan harvests.
//
// A file qualifies when its extension is in the configured set, its path
// (relative to the scan root, slash-separated) matches no exclude glob, and
// it is not hidden unless hidden files are requested. Globs use doublestar
// semantics.
package match

import (
	"path/filepath"
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Unescaped backslashes become forward slashes so Windows users can write
// "build\**\*.tmp". Escaped glob metacharacters (\*, \?, \[) are preserved.
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '\\' {
			b.WriteRune(r)
			continue
		}
		if i+1 < len(runes) && strings.ContainsRune(globEscapable, runes[i+1]) {
			b.WriteRune('\\')
			b.WriteRune(runes[i+1])
			i++
			continue
		}
		b.WriteRune('/')
	}

	return b.String()
}

// NormalizeExtension lowercases an extension and strips a leading dot.
//
//	".PDF" → "pdf"
//	"txt"  → "txt"
func NormalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Extension returns the normalized extension of a file name, or "" if it
// has none.
func Extension(name string) string {
	return NormalizeExtension(filepath.Ext(name))
}

// IsHidden returns true if any slash-separated path segment starts with a dot.
//
//	"docs/a.txt"          → false
//	".git/config"         → true
//	"docs/.draft/a.txt"   → true
func IsHidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if seg != "" && seg != "." && seg != ".." && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

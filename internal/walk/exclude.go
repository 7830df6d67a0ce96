package walk

import (
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// ShouldExclude reports whether rel, a path relative to the walked root,
// matches any of patterns. Pattern forms:
//
//   - A pattern without a slash but with glob characters is matched against
//     the base name ("*.tmp"). '[' counts as a glob character so character
//     classes such as "IMG_[0-9]*" work as they do in .gitignore.
//   - A plain pattern without a slash names a path component at any depth:
//     ".git" drops every .git directory and all it contains.
//   - A pattern with a slash is anchored at the root. Without glob characters
//     it drops that path and everything under it ("build/out"); with them it
//     is matched against the whole relative path ("docs/*.pdf").
func ShouldExclude(rel string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	rel = filepath.ToSlash(rel)
	segments := strings.Split(rel, "/")
	for _, p := range patterns {
		if matchPattern(strings.TrimPrefix(filepath.ToSlash(p), "/"), rel, segments) {
			return true
		}
	}
	return false
}

func matchPattern(p, rel string, segments []string) bool {
	anchored := strings.Contains(p, "/")
	glob := strings.ContainsAny(p, "*?[")
	switch {
	case anchored && glob:
		ok, _ := path.Match(p, rel)
		return ok
	case anchored:
		return rel == p || strings.HasPrefix(rel, p+"/")
	case glob:
		// Malformed classes never match.
		ok, _ := path.Match(p, segments[len(segments)-1])
		return ok
	}
	return slices.Contains(segments, p)
}

package walk

import (
	"bufio"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreFileName is the per-root ignore file, read like .gitignore.
const IgnoreFileName = ".sha2ignore"

//go:embed default.sha2ignore
var defaultIgnoreContent string

// DefaultPatterns returns the patterns from the embedded default.sha2ignore (always applied).
func DefaultPatterns() []string {
	return parsePatterns(bufio.NewScanner(strings.NewReader(defaultIgnoreContent)))
}

// LoadIgnoreFile reads path and returns one pattern per non-empty, non-comment
// line. A missing file yields nil, nil.
func LoadIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is inside an operator-chosen root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	patterns := parsePatterns(s)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

func parsePatterns(s *bufio.Scanner) []string {
	var patterns []string
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// PatternsForRoot merges the default patterns, root/.sha2ignore if present, and extra.
func PatternsForRoot(root string, extra []string) ([]string, error) {
	patterns := DefaultPatterns()
	rootPatterns, err := LoadIgnoreFile(filepath.Join(filepath.Clean(root), IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns = append(patterns, rootPatterns...)
	return append(patterns, extra...), nil
}

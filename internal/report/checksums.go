package report

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/eargollo/sha2file/pkg/digest"
)

// Checksum is one expected digest read from a checksum file.
type Checksum struct {
	Line    int
	Path    string
	Variant digest.Variant
	Digest  string // lowercase hex
}

var (
	tagLine = regexp.MustCompile(`^([A-Za-z0-9-]+) \((.*)\) = ([0-9A-Fa-f]+)$`)
	hexOnly = regexp.MustCompile(`^[0-9A-Fa-f]+$`)
)

// ParseChecksums reads coreutils ("<hex>  <path>", "<hex> *<path>") and BSD
// tag ("SHA256 (<path>) = <hex>") lines. Blank lines and lines starting with
// '#' are ignored. The variant comes from the tag or, for untagged lines,
// from the digest length. Lines that cannot be parsed are returned as
// 1-based line numbers in malformed; err is only set for read failures.
func ParseChecksums(r io.Reader) (sums []Checksum, malformed []int, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		c, ok := parseLine(line)
		if !ok {
			malformed = append(malformed, n)
			continue
		}
		c.Line = n
		sums = append(sums, c)
	}
	return sums, malformed, sc.Err()
}

func parseLine(line string) (Checksum, bool) {
	escaped := strings.HasPrefix(line, "\\")
	if escaped {
		line = line[1:]
	}
	var c Checksum
	if m := tagLine.FindStringSubmatch(line); m != nil {
		v, err := digest.ParseVariant(m[1])
		if err != nil || len(m[3]) != v.HexLen() {
			return c, false
		}
		c.Variant, c.Path, c.Digest = v, m[2], strings.ToLower(m[3])
	} else {
		hexPart, rest, found := strings.Cut(line, " ")
		if !found || !hexOnly.MatchString(hexPart) || rest == "" {
			return c, false
		}
		// Second separator character is ' ' (text mode) or '*' (binary mode).
		if rest[0] != ' ' && rest[0] != '*' {
			return c, false
		}
		v, ok := digest.VariantForHexLen(len(hexPart))
		if !ok {
			return c, false
		}
		c.Variant, c.Path, c.Digest = v, rest[1:], strings.ToLower(hexPart)
	}
	if escaped {
		c.Path = unescapePath(c.Path)
	}
	if c.Path == "" {
		return c, false
	}
	return c, true
}

func unescapePath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '\\' && i+1 < len(p) {
			switch p[i+1] {
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 'r':
				b.WriteByte('\r')
				i++
				continue
			}
		}
		b.WriteByte(p[i])
	}
	return b.String()
}

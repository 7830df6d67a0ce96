// Package report renders digest results in coreutils, BSD-tag and structured
// formats, and parses checksum files back.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

// Format names an output format.
type Format string

const (
	FormatText  Format = "text"  // "<hex>  <path>"
	FormatTag   Format = "tag"   // "SHA256 (<path>) = <hex>"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
	FormatTable Format = "table"
)

// Formats lists the supported formats.
func Formats() []Format {
	return []Format{FormatText, FormatTag, FormatJSON, FormatYAML, FormatTable}
}

// ParseFormat resolves a format name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats() {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Entry is one file's outcome. Digest and Error are mutually exclusive.
type Entry struct {
	Path      string `json:"path" yaml:"path"`
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	Digest    string `json:"digest,omitempty" yaml:"digest,omitempty"`
	Size      int64  `json:"size" yaml:"size"`
	Reused    bool   `json:"reused,omitempty" yaml:"reused,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Writer receives entries in output order. Line formats write each entry
// immediately; structured formats buffer until Flush.
type Writer interface {
	Write(Entry) error
	Flush() error
}

// NewWriter returns a Writer for format. Failed entries in line formats go
// to errOut as "sha2file: <path>: <error>".
func NewWriter(format Format, out, errOut io.Writer) (Writer, error) {
	switch format {
	case FormatText, FormatTag:
		return &lineWriter{tag: format == FormatTag, out: out, errOut: errOut}, nil
	case FormatJSON, FormatYAML, FormatTable:
		return &bufferedWriter{format: format, out: out}, nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

type lineWriter struct {
	tag    bool
	out    io.Writer
	errOut io.Writer
}

func (w *lineWriter) Write(e Entry) error {
	if e.Error != "" {
		_, err := fmt.Fprintf(w.errOut, "sha2file: %s: %s\n", e.Path, e.Error)
		return err
	}
	var err error
	if w.tag {
		_, err = io.WriteString(w.out, TagLine(e.Algorithm, e.Path, e.Digest)+"\n")
	} else {
		_, err = io.WriteString(w.out, TextLine(e.Path, e.Digest)+"\n")
	}
	return err
}

func (w *lineWriter) Flush() error { return nil }

// TextLine formats a coreutils line. Paths containing a backslash or newline
// are escaped and the line is prefixed with a backslash, as sha256sum does.
func TextLine(path, digest string) string {
	if p, escaped := escapePath(path); escaped {
		return "\\" + digest + "  " + p
	}
	return digest + "  " + path
}

// TagLine formats a BSD-style tagged line; the tag is the upper-case
// algorithm name without dashes.
func TagLine(algorithm, path, digest string) string {
	tag := strings.ToUpper(strings.ReplaceAll(algorithm, "-", ""))
	if p, escaped := escapePath(path); escaped {
		return "\\" + tag + " (" + p + ") = " + digest
	}
	return tag + " (" + path + ") = " + digest
}

var pathEscaper = strings.NewReplacer("\\", "\\\\", "\n", "\\n", "\r", "\\r")

func escapePath(p string) (string, bool) {
	if !strings.ContainsAny(p, "\\\n\r") {
		return p, false
	}
	return pathEscaper.Replace(p), true
}

type bufferedWriter struct {
	format  Format
	out     io.Writer
	entries []Entry
}

func (w *bufferedWriter) Write(e Entry) error {
	w.entries = append(w.entries, e)
	return nil
}

func (w *bufferedWriter) Flush() error {
	entries := w.entries
	if entries == nil {
		entries = []Entry{}
	}
	switch w.format {
	case FormatJSON:
		enc := json.NewEncoder(w.out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case FormatYAML:
		enc := yaml.NewEncoder(w.out)
		enc.SetIndent(2)
		if err := enc.Encode(entries); err != nil {
			return err
		}
		return enc.Close()
	default:
		return renderTable(w.out, entries)
	}
}

func renderTable(out io.Writer, entries []Entry) error {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Path", "Algorithm", "Digest / Error", "Size", "Reused"})
	var failed int
	for _, e := range entries {
		result := e.Digest
		if e.Error != "" {
			result = "error: " + e.Error
			failed++
		}
		reused := ""
		if e.Reused {
			reused = "yes"
		}
		t.AppendRow(table.Row{e.Path, e.Algorithm, result, e.Size, reused})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d files", len(entries)), "", fmt.Sprintf("%d failed", failed), "", ""})
	t.Render()
	return nil
}

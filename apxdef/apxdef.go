// Package apxdef parses the textual APX definition grammar (spec.md §6)
// into the typed element trees consumed by node.NewNode and
// apxvm.Compile.
//
// Grounded in structure on protocol/rtmp/parseurl.go: a single
// left-to-right scanner over a small, fixed grammar, returning populated
// structs alongside a sentinel or line-annotated error rather than
// building a separate lexer/parser pair.
package apxdef

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cogu/apx-go/apxerr"
	"github.com/cogu/apx-go/apxvm"
)

// Definition is a fully parsed APX definition: the header version, the
// node name, the in-order list of reusable types declared by `T"..."`
// lines, and the provide/require port element trees.
type Definition struct {
	Major, Minor int
	Name         string
	Types        []*apxvm.Element
	ProvidePorts []*apxvm.Element
	RequirePorts []*apxvm.Element
}

// ParseError carries the 1-based source line number of a malformed
// definition (spec.md §7: "Definition parse errors carry the offending
// line number").
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("apxdef: line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErr(line int, format string, args ...interface{}) error {
	return &ParseError{Line: line, Err: apxerr.New(apxerr.Parse, fmt.Sprintf(format, args...))}
}

// Parse parses the full text of an APX definition.
func Parse(text string) (*Definition, error) {
	lines := strings.Split(text, "\n")

	def := &Definition{}
	sawHeader := false
	for i, raw := range lines {
		lineNo := i + 1
		line := strings.TrimRight(raw, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !sawHeader {
			major, minor, err := parseHeader(line)
			if err != nil {
				return nil, parseErr(lineNo, "%v", err)
			}
			def.Major, def.Minor = major, minor
			sawHeader = true
			continue
		}
		if err := parseDecl(def, line, lineNo); err != nil {
			return nil, err
		}
	}
	if !sawHeader {
		return nil, parseErr(1, "missing APX/<major>.<minor> header")
	}
	return def, nil
}

func parseHeader(line string) (major, minor int, err error) {
	const prefix = "APX/"
	if !strings.HasPrefix(line, prefix) {
		return 0, 0, fmt.Errorf("expected %q header, got %q", prefix, line)
	}
	rest := line[len(prefix):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, fmt.Errorf("malformed version %q", rest)
	}
	major, err = strconv.Atoi(rest[:dot])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed major version: %w", err)
	}
	minor, err = strconv.Atoi(rest[dot+1:])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed minor version: %w", err)
	}
	return major, minor, nil
}

func parseDecl(def *Definition, line string, lineNo int) error {
	if line == "" {
		return parseErr(lineNo, "empty declaration")
	}
	kind := line[0]
	rest := line[1:]
	name, rest, err := parseQuoted(rest)
	if err != nil {
		return parseErr(lineNo, "%v", err)
	}

	switch kind {
	case 'N':
		def.Name = name
		return nil
	case 'T', 'P', 'R':
		el, _, err := parseSignature(rest, def.Types)
		if err != nil {
			return parseErr(lineNo, "%v", err)
		}
		el.Name = name
		switch kind {
		case 'T':
			def.Types = append(def.Types, el)
		case 'P':
			def.ProvidePorts = append(def.ProvidePorts, el)
		case 'R':
			def.RequirePorts = append(def.RequirePorts, el)
		}
		return nil
	default:
		return parseErr(lineNo, "unrecognized declaration kind %q", kind)
	}
}

// parseQuoted consumes a `"..."` string (no escape handling; names and
// value-table labels in APX definitions never contain quotes) and returns
// its content plus the unconsumed remainder.
func parseQuoted(s string) (value, rest string, err error) {
	if len(s) == 0 || s[0] != '"' {
		return "", s, fmt.Errorf("expected '\"', got %q", s)
	}
	end := strings.IndexByte(s[1:], '"')
	if end < 0 {
		return "", s, fmt.Errorf("unterminated quoted string %q", s)
	}
	end += 1
	return s[1:end], s[end+1:], nil
}

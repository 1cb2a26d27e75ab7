package apxdef

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cogu/apx-go/apxvm"
)

// parseSignature parses one data-element signature (spec.md §6): a scalar
// code, a type reference `T[n]`, or a record `{...}`, optionally followed
// by a `(lo,hi)` range, an `[n]`/`[n*]` array suffix, and a `:`-led
// attribute (`:=v` init value or `:VT(...)` value table).
func parseSignature(s string, types []*apxvm.Element) (*apxvm.Element, string, error) {
	el, rest, err := parseBase(s, types)
	if err != nil {
		return nil, s, err
	}

	if strings.HasPrefix(rest, "(") {
		lo, hi, r2, err := parseRange(rest)
		if err != nil {
			return nil, s, err
		}
		el.WithRange(lo, hi, isUnsignedScalar(el.Scalar))
		rest = r2
	}

	if strings.HasPrefix(rest, "[") {
		count, dynamic, r2, err := parseArraySuffix(rest)
		if err != nil {
			return nil, s, err
		}
		el.ArrayLen = count
		el.Dynamic = dynamic
		rest = r2
	}

	for strings.HasPrefix(rest, ":") {
		rest, err = parseAttribute(el, rest[1:])
		if err != nil {
			return nil, s, err
		}
	}

	return el, rest, nil
}

func parseBase(s string, types []*apxvm.Element) (*apxvm.Element, string, error) {
	if s == "" {
		return nil, s, fmt.Errorf("empty signature")
	}

	if strings.HasPrefix(s, "{") {
		return parseRecord(s, types)
	}

	if strings.HasPrefix(s, "T[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, s, fmt.Errorf("unterminated type reference %q", s)
		}
		idx, err := strconv.Atoi(s[2:end])
		if err != nil {
			return nil, s, fmt.Errorf("malformed type index in %q: %w", s, err)
		}
		if idx < 0 || idx >= len(types) {
			return nil, s, fmt.Errorf("type index %d out of range (have %d types)", idx, len(types))
		}
		return cloneElement(types[idx]), s[end+1:], nil
	}

	kind, ok := scalarKind(s[0])
	if !ok {
		return nil, s, fmt.Errorf("unrecognized signature code %q", s[:1])
	}
	return &apxvm.Element{Scalar: kind}, s[1:], nil
}

// parseRecord parses `{"Field1"<sig>"Field2"<sig>...}`.
func parseRecord(s string, types []*apxvm.Element) (*apxvm.Element, string, error) {
	rest := s[1:]
	var children []*apxvm.Element
	for {
		if rest == "" {
			return nil, s, fmt.Errorf("unterminated record %q", s)
		}
		if rest[0] == '}' {
			rest = rest[1:]
			break
		}
		name, r2, err := parseQuoted(rest)
		if err != nil {
			return nil, s, err
		}
		child, r3, err := parseSignature(r2, types)
		if err != nil {
			return nil, s, err
		}
		child.Name = name
		children = append(children, child)
		rest = r3
	}
	return &apxvm.Element{Children: children}, rest, nil
}

func scalarKind(c byte) (apxvm.Kind, bool) {
	switch c {
	case 'C':
		return apxvm.KindU8, true
	case 'S':
		return apxvm.KindU16, true
	case 'L':
		return apxvm.KindU32, true
	case 'c':
		return apxvm.KindI8, true
	case 's':
		return apxvm.KindI16, true
	case 'l':
		return apxvm.KindI32, true
	default:
		return apxvm.KindNone, false
	}
}

func isUnsignedScalar(k apxvm.Kind) bool {
	switch k {
	case apxvm.KindU8, apxvm.KindU16, apxvm.KindU32, apxvm.KindU64:
		return true
	default:
		return false
	}
}

// parseRange parses `(lo,hi)`, each bound a decimal or `0x`-hex integer,
// optionally signed.
func parseRange(s string) (lo, hi int64, rest string, err error) {
	end := strings.IndexByte(s, ')')
	if end < 0 {
		return 0, 0, s, fmt.Errorf("unterminated range %q", s)
	}
	body := s[1:end]
	comma := strings.IndexByte(body, ',')
	if comma < 0 {
		return 0, 0, s, fmt.Errorf("malformed range %q", body)
	}
	lo, err = parseIntLiteral(body[:comma])
	if err != nil {
		return 0, 0, s, fmt.Errorf("malformed range lower bound: %w", err)
	}
	hi, err = parseIntLiteral(body[comma+1:])
	if err != nil {
		return 0, 0, s, fmt.Errorf("malformed range upper bound: %w", err)
	}
	return lo, hi, s[end+1:], nil
}

// parseArraySuffix parses `[n]` (fixed) or `[n*]` (dynamic).
func parseArraySuffix(s string) (count uint32, dynamic bool, rest string, err error) {
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return 0, false, s, fmt.Errorf("unterminated array suffix %q", s)
	}
	body := s[1:end]
	if strings.HasSuffix(body, "*") {
		dynamic = true
		body = body[:len(body)-1]
	}
	n, err := parseIntLiteral(body)
	if err != nil {
		return 0, false, s, fmt.Errorf("malformed array length %q: %w", body, err)
	}
	return uint32(n), dynamic, s[end+1:], nil
}

// parseAttribute parses one `=value` or `VT(...)` attribute body (the
// leading ':' has already been consumed by the caller), applies it to el,
// and returns the unconsumed remainder.
func parseAttribute(el *apxvm.Element, body string) (string, error) {
	switch {
	case strings.HasPrefix(body, "="):
		v, rest, err := parseIntLiteralPrefix(body[1:])
		if err != nil {
			return body, fmt.Errorf("malformed init value: %w", err)
		}
		el.WithInitValue(initValueForScalar(el.Scalar, v))
		return rest, nil
	case strings.HasPrefix(body, "VT("):
		labels, rest, err := parseValueTable(body[2:])
		if err != nil {
			return body, err
		}
		el.WithValueTable(labels)
		return rest, nil
	default:
		return body, fmt.Errorf("unrecognized attribute %q", body)
	}
}

// parseValueTable parses `(\"A\",\"B\",...)`.
func parseValueTable(s string) ([]string, string, error) {
	if !strings.HasPrefix(s, "(") {
		return nil, s, fmt.Errorf("expected '(' in value table, got %q", s)
	}
	rest := s[1:]
	var labels []string
	for {
		if rest == "" {
			return nil, s, fmt.Errorf("unterminated value table %q", s)
		}
		if rest[0] == ')' {
			rest = rest[1:]
			break
		}
		if rest[0] == ',' {
			rest = rest[1:]
			continue
		}
		label, r2, err := parseQuoted(rest)
		if err != nil {
			return nil, s, err
		}
		labels = append(labels, label)
		rest = r2
	}
	return labels, rest, nil
}

func initValueForScalar(k apxvm.Kind, v int64) apxvm.Value {
	if isUnsignedScalar(k) {
		return apxvm.NewUint(k, uint64(v))
	}
	return apxvm.NewInt(k, v)
}

// parseIntLiteral parses a full string as a decimal or 0x-hex integer.
func parseIntLiteral(s string) (int64, error) {
	v, rest, err := parseIntLiteralPrefix(s)
	if err != nil {
		return 0, err
	}
	if rest != "" {
		return 0, fmt.Errorf("trailing characters %q", rest)
	}
	return v, nil
}

// parseIntLiteralPrefix parses a leading decimal or 0x-hex integer
// (optionally signed) from s, returning the unconsumed remainder.
func parseIntLiteralPrefix(s string) (int64, string, error) {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	base := 10
	if strings.HasPrefix(s[i:], "0x") || strings.HasPrefix(s[i:], "0X") {
		base = 16
		i += 2
	}
	start := i
	for i < len(s) && isDigitForBase(s[i], base) {
		i++
	}
	if i == start {
		return 0, s, fmt.Errorf("no digits in %q", s)
	}
	numStr := s[:i]
	var v int64
	var err error
	if base == 16 {
		var sign int64 = 1
		n := numStr
		if n[0] == '-' {
			sign = -1
			n = n[1:]
		} else if n[0] == '+' {
			n = n[1:]
		}
		u, perr := strconv.ParseUint(n[2:], 16, 64)
		if perr != nil {
			return 0, s, perr
		}
		v = sign * int64(u)
	} else {
		v, err = strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return 0, s, err
		}
	}
	return v, s[i:], nil
}

func isDigitForBase(c byte, base int) bool {
	switch {
	case base == 16:
		return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
	default:
		return c >= '0' && c <= '9'
	}
}

// cloneElement returns a deep copy of a type-table template, since
// multiple ports may reference the same declared type and each needs its
// own Element (Name and Range differ per use).
func cloneElement(e *apxvm.Element) *apxvm.Element {
	clone := *e
	clone.Children = nil
	for _, c := range e.Children {
		clone.Children = append(clone.Children, cloneElement(c))
	}
	if e.Range != nil {
		r := *e.Range
		clone.Range = &r
	}
	if e.ValueTable != nil {
		clone.ValueTable = append([]string(nil), e.ValueTable...)
	}
	return &clone
}

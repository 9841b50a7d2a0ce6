// Package pathmatch implements structural matching of concrete JSON-like
// field paths against wildcard pattern paths.
//
// A concrete path is a dot-separated sequence of segments, each a field name
// optionally followed by a literal index ("spec.containers[0].image"). A
// pattern path additionally allows "[*]" as an index (matches any single
// concrete index) and a trailing "*" segment (matches any suffix, including
// the empty one). Matching is segment-wise and purely structural; there is no
// awareness of the underlying schema.
package pathmatch

import (
	"fmt"
	"strconv"
	"strings"
)

// NoIndex marks a segment without a bracketed index.
const NoIndex = -1

// Segment is one step of a path: a field name and an optional index.
// AnyIndex is only valid inside patterns.
type Segment struct {
	Field    string
	Index    int
	AnyIndex bool
}

// String renders the segment in path syntax.
func (s Segment) String() string {
	switch {
	case s.AnyIndex:
		return s.Field + "[*]"
	case s.Index != NoIndex:
		return s.Field + "[" + strconv.Itoa(s.Index) + "]"
	default:
		return s.Field
	}
}

// Path is a concrete field path. Indices are always literal.
type Path []Segment

// String renders the path in dot syntax with literal indices.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}

	return strings.Join(parts, ".")
}

// Equal reports whether two concrete paths are segment-wise identical.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}

	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}

	return true
}

// HasPrefix reports whether prefix is a leading sub-path of p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}

	for i := range prefix {
		if p[i] != prefix[i] {
			return false
		}
	}

	return true
}

// Pattern is a wildcard path pattern. Segments may carry "[*]" indices and
// the pattern may end in a trailing "*" covering any remaining suffix.
type Pattern struct {
	segments  []Segment
	anySuffix bool
}

// String renders the pattern in the syntax accepted by ParsePattern.
func (p Pattern) String() string {
	parts := make([]string, 0, len(p.segments)+1)
	for _, s := range p.segments {
		parts = append(parts, s.String())
	}

	if p.anySuffix {
		parts = append(parts, "*")
	}

	return strings.Join(parts, ".")
}

// ParsePath parses a concrete path. Wildcards are rejected.
func ParsePath(s string) (Path, error) {
	segs, anySuffix, err := parse(s)
	if err != nil {
		return nil, err
	}

	if anySuffix {
		return nil, fmt.Errorf("pathmatch: parse %q: trailing * not allowed in a concrete path", s)
	}

	for _, seg := range segs {
		if seg.AnyIndex {
			return nil, fmt.Errorf("pathmatch: parse %q: [*] not allowed in a concrete path", s)
		}
	}

	return Path(segs), nil
}

// MustParsePath is like ParsePath but panics on error. Use for hardcoded paths.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}

	return p
}

// ParsePattern parses a pattern path. A "*" is only valid as the whole final
// segment; "[*]" is only valid as a whole index.
func ParsePattern(s string) (Pattern, error) {
	segs, anySuffix, err := parse(s)
	if err != nil {
		return Pattern{}, err
	}

	return Pattern{segments: segs, anySuffix: anySuffix}, nil
}

// MustParsePattern is like ParsePattern but panics on error.
func MustParsePattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}

	return p
}

// Matches reports whether the concrete path falls within this pattern.
// A trailing "*" covers any suffix including the empty one, so
// "spec.template.*" matches both "spec.template" and everything under it.
func (p Pattern) Matches(path Path) bool {
	if len(path) < len(p.segments) {
		return false
	}

	if !p.anySuffix && len(path) != len(p.segments) {
		return false
	}

	for i, want := range p.segments {
		got := path[i]
		if got.Field != want.Field {
			return false
		}

		switch {
		case want.AnyIndex:
			if got.Index == NoIndex {
				return false
			}
		default:
			if got.Index != want.Index {
				return false
			}
		}
	}

	return true
}

// Expand filters a set of concrete paths down to those matched by the
// pattern, preserving input order. Matched indices stay literal.
func (p Pattern) Expand(paths []Path) []Path {
	var out []Path

	for _, path := range paths {
		if p.Matches(path) {
			out = append(out, path)
		}
	}

	return out
}

func parse(s string) ([]Segment, bool, error) {
	if s == "" {
		return nil, false, fmt.Errorf("pathmatch: parse %q: empty path", s)
	}

	raw := strings.Split(s, ".")
	segs := make([]Segment, 0, len(raw))
	anySuffix := false

	for i, part := range raw {
		if part == "*" {
			if i != len(raw)-1 {
				return nil, false, fmt.Errorf("pathmatch: parse %q: * only allowed as the final segment", s)
			}

			anySuffix = true

			continue
		}

		seg, err := parseSegment(part)
		if err != nil {
			return nil, false, fmt.Errorf("pathmatch: parse %q: %w", s, err)
		}

		segs = append(segs, seg)
	}

	if len(segs) == 0 && !anySuffix {
		return nil, false, fmt.Errorf("pathmatch: parse %q: no segments", s)
	}

	return segs, anySuffix, nil
}

func parseSegment(part string) (Segment, error) {
	open := strings.IndexByte(part, '[')
	if open == -1 {
		if strings.ContainsAny(part, "]*") {
			return Segment{}, fmt.Errorf("segment %q: stray bracket or wildcard", part)
		}

		if part == "" {
			return Segment{}, fmt.Errorf("empty segment")
		}

		return Segment{Field: part, Index: NoIndex}, nil
	}

	if open == 0 {
		return Segment{}, fmt.Errorf("segment %q: missing field name", part)
	}

	if !strings.HasSuffix(part, "]") {
		return Segment{}, fmt.Errorf("segment %q: unterminated index", part)
	}

	field := part[:open]
	idx := part[open+1 : len(part)-1]

	if strings.ContainsAny(field, "]*") {
		return Segment{}, fmt.Errorf("segment %q: stray bracket or wildcard in field name", part)
	}

	if idx == "*" {
		return Segment{Field: field, Index: NoIndex, AnyIndex: true}, nil
	}

	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return Segment{}, fmt.Errorf("segment %q: invalid index %q", part, idx)
	}

	return Segment{Field: field, Index: n}, nil
}

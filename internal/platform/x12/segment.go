package x12

import (
	"fmt"
	"strings"
)

// Delimiters used by every document this package reads or writes.
const (
	ElementSeparator    = "*"
	ComponentSeparator  = ":"
	SegmentTerminator   = "~"
	RepetitionSeparator = "^"
)

// Segment is one decoded EDI segment: the segment id (e.g. "CLP") and its
// elements in order. Elements[0] is the first element after the id (CLP01).
type Segment struct {
	ID       string
	Elements []string
}

// NewSegment builds a segment from an id and its elements.
func NewSegment(id string, elements ...string) Segment {
	return Segment{ID: id, Elements: elements}
}

// Decode parses a single segment line. The trailing terminator and any
// surrounding whitespace are optional. Empty elements are preserved.
func Decode(line string) (Segment, error) {
	line = strings.TrimLeft(line, " \t\r\n")
	if trimmed := strings.TrimRight(line, " \t\r\n"); strings.HasSuffix(trimmed, SegmentTerminator) {
		line = strings.TrimSuffix(trimmed, SegmentTerminator)
	} else {
		line = strings.TrimRight(line, "\r\n")
	}
	if line == "" {
		return Segment{}, fmt.Errorf("x12: empty segment")
	}

	parts := strings.Split(line, ElementSeparator)
	id := parts[0]
	if !validSegmentID(id) {
		return Segment{}, fmt.Errorf("x12: invalid segment id %q", id)
	}

	seg := Segment{ID: id}
	if len(parts) > 1 {
		seg.Elements = parts[1:]
	}
	return seg, nil
}

// Encode renders the segment with element separators and the segment
// terminator.
func Encode(seg Segment) string {
	var b strings.Builder
	b.WriteString(seg.ID)
	for _, el := range seg.Elements {
		b.WriteString(ElementSeparator)
		b.WriteString(el)
	}
	b.WriteString(SegmentTerminator)
	return b.String()
}

// String implements fmt.Stringer using Encode.
func (s Segment) String() string {
	return Encode(s)
}

// Element returns the element at a 1-based X12 position (CLP01 is 1), or ""
// when the segment is shorter.
func (s Segment) Element(pos int) string {
	idx := pos - 1
	if idx < 0 || idx >= len(s.Elements) {
		return ""
	}
	return s.Elements[idx]
}

// Components splits the element at a 1-based position into its composite
// sub-elements.
func (s Segment) Components(pos int) []string {
	el := s.Element(pos)
	if el == "" {
		return nil
	}
	return strings.Split(el, ComponentSeparator)
}

// Component returns a single sub-element by 1-based element and component
// position.
func (s Segment) Component(pos, comp int) string {
	parts := s.Components(pos)
	idx := comp - 1
	if idx < 0 || idx >= len(parts) {
		return ""
	}
	return parts[idx]
}

// Composite joins sub-elements with the component separator. Trailing empty
// sub-elements are dropped so "HC:99213" is produced rather than "HC:99213::".
func Composite(parts ...string) string {
	end := len(parts)
	for end > 0 && parts[end-1] == "" {
		end--
	}
	return strings.Join(parts[:end], ComponentSeparator)
}

// SplitSegments breaks a raw document into segment lines. Segments may be
// separated by the terminator, by newlines, or both.
func SplitSegments(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	var lines []string
	for _, chunk := range strings.Split(raw, SegmentTerminator) {
		for _, line := range strings.Split(chunk, "\n") {
			line = strings.TrimSpace(line)
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines
}

// Join renders segments as a newline separated document.
func Join(segments []Segment) string {
	lines := make([]string, len(segments))
	for i, seg := range segments {
		lines[i] = Encode(seg)
	}
	return strings.Join(lines, "\n") + "\n"
}

func validSegmentID(id string) bool {
	if len(id) < 2 || len(id) > 3 {
		return false
	}
	for _, r := range id {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

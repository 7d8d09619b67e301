package x12

import "fmt"

// StructuralParseError reports a malformed segment or an unexpected end of
// input. It is fatal to the document being decoded.
type StructuralParseError struct {
	Index     int    // 0-based position of the offending segment, -1 at end of input
	SegmentID string // id of the offending segment when known
	Reason    string
	Err       error
}

func (e *StructuralParseError) Error() string {
	loc := "end of input"
	if e.Index >= 0 {
		loc = fmt.Sprintf("segment %d", e.Index+1)
		if e.SegmentID != "" {
			loc += " (" + e.SegmentID + ")"
		}
	}
	if e.Err != nil {
		return fmt.Sprintf("x12: %s: %s: %v", loc, e.Reason, e.Err)
	}
	return fmt.Sprintf("x12: %s: %s", loc, e.Reason)
}

func (e *StructuralParseError) Unwrap() error {
	return e.Err
}

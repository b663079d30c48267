package phi

import (
	"fmt"
	"sort"
)

// Substitute replaces every finding in text with a reference token for the
// vault id at the same index. The ids must come from a successful vault
// write for exactly these findings.
func Substitute(text string, findings []Finding, ids []string) (string, error) {
	if len(findings) != len(ids) {
		return "", fmt.Errorf("substitute: %w: %d findings, %d ids", ErrLengthMismatch, len(findings), len(ids))
	}
	if len(findings) == 0 {
		return text, nil
	}

	type pair struct {
		span Span
		ref  Reference
	}
	pairs := make([]pair, len(findings))
	for i, f := range findings {
		if !ValidID(ids[i]) {
			return "", fmt.Errorf("substitute: malformed vault id %q", ids[i])
		}
		if !f.ValidFor(text) {
			return "", fmt.Errorf("substitute: %w: [%d,%d)", ErrInvalidSpan, f.Start, f.End)
		}
		pairs[i] = pair{span: f.Span, ref: Reference{EntityType: f.EntityType, ID: ids[i]}}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].span.Start < pairs[j].span.Start
	})

	offsets := runeOffsets(text)
	segs := make([]Segment, 0, 2*len(pairs)+1)
	cursor := 0
	for i := range pairs {
		s := pairs[i].span
		if s.Start < cursor {
			return "", fmt.Errorf("substitute: %w: [%d,%d) overlaps previous span", ErrInvalidSpan, s.Start, s.End)
		}
		if s.Start > cursor {
			segs = append(segs, Segment{Text: substring(text, offsets, cursor, s.Start)})
		}
		segs = append(segs, Segment{Ref: &pairs[i].ref})
		cursor = s.End
	}
	if cursor < len(offsets)-1 {
		segs = append(segs, Segment{Text: substring(text, offsets, cursor, len(offsets)-1)})
	}

	return RenderSegments(segs), nil
}

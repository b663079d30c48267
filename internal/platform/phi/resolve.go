package phi

import "sort"

// ResolveOverlaps reduces recognizer output to a non-overlapping set.
//
// Spans are ordered by start ascending, then end descending, then score
// descending. The walk keeps a single last-accepted span: a span starting at
// or after its end is accepted, an overlapping span replaces it only with a
// strictly higher score, or an equal score and a strictly longer range.
//
// Only the last accepted span is compared, not every span seen so far, so
// three-way overlaps can resolve differently depending on input order. The
// result is still non-overlapping.
func ResolveOverlaps(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}

	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End > b.End
		}
		return a.Score > b.Score
	})

	resolved := make([]Span, 0, len(sorted))
	for _, s := range sorted {
		if len(resolved) == 0 {
			resolved = append(resolved, s)
			continue
		}

		last := &resolved[len(resolved)-1]
		if s.Start >= last.End {
			resolved = append(resolved, s)
			continue
		}

		if s.Score > last.Score || (s.Score == last.Score && s.Len() > last.Len()) {
			*last = s
		}
	}
	return resolved
}

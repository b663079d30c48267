// Package phi implements the PHI engine: overlap resolution of recognizer
// spans, clinical false-positive filtering, vaulting, token substitution and
// the read-side de-identification and demographic generalization.
package phi

import "unicode/utf8"

// Entity types reported by the recognizer that the engine treats specially.
// Any other type is vaulted and redacted generically.
const (
	EntityPerson           = "PERSON"
	EntityDateTime         = "DATE_TIME"
	EntityPhoneNumber      = "PHONE_NUMBER"
	EntityEmailAddress     = "EMAIL_ADDRESS"
	EntityLocation         = "LOCATION"
	EntityMedicalCondition = "MEDICAL_CONDITION"
)

// Span is a candidate sensitive range reported for one field. Start and End
// are half-open character offsets (runes, not bytes).
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	EntityType string  `json:"entity_type"`
	Score      float64 `json:"score"`
}

// Len returns the number of characters covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Overlaps reports whether s and o share at least one character.
func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// ValidFor reports whether the span lies inside text and covers at least one
// character.
func (s Span) ValidFor(text string) bool {
	return s.Start >= 0 && s.Start < s.End && s.End <= utf8.RuneCountInString(text)
}

// Finding is a span that survived resolution and filtering, carrying the
// literal text it covers and the field it was found in.
type Finding struct {
	Span
	Value     string `json:"value"`
	FieldPath string `json:"field_path"`
}

// runeOffsets maps every character index of text (plus len) to its byte
// offset, so offsets[i] is where rune i starts.
func runeOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

// substring returns text[start:end) in character offsets. The caller must
// have checked the span with ValidFor.
func substring(text string, offsets []int, start, end int) string {
	return text[offsets[start]:offsets[end]]
}

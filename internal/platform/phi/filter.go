package phi

import (
	"strings"
	"unicode"
)

// Filter drops recognizer false positives that are specific to clinical
// text and narrows name redaction to the subject's known identifiers.
// A Filter is immutable after construction and safe for concurrent use.
type Filter struct {
	medicalTerms    map[string]struct{}
	frequencyTokens map[string]struct{}
}

// NewFilter builds a filter over the given vocabulary. A nil vocabulary
// yields a filter that only applies the type and known-identifier rules.
func NewFilter(v *Vocabulary) *Filter {
	if v == nil {
		v = &Vocabulary{}
	}
	return &Filter{
		medicalTerms:    wordSet(v.MedicalTerms),
		frequencyTokens: wordSet(v.FrequencyTokens),
	}
}

// Apply turns resolved spans into findings for one field. Spans that do not
// fit the text are discarded. The returned list is the single source for both
// vaulting and substitution; applying the filter to its own output again
// yields the same list.
func (f *Filter) Apply(text string, spans []Span, fieldPath string, knownIdentifiers []string) []Finding {
	known := normalizeKnown(knownIdentifiers)
	offsets := runeOffsets(text)

	var findings []Finding
	for _, s := range spans {
		if !s.ValidFor(text) {
			continue
		}
		value := substring(text, offsets, s.Start, s.End)
		if !f.keep(s.EntityType, value, known) {
			continue
		}
		findings = append(findings, Finding{Span: s, Value: value, FieldPath: fieldPath})
	}
	return findings
}

// Keep reports whether a span of the given type covering value should be
// vaulted.
func (f *Filter) Keep(entityType, value string, knownIdentifiers []string) bool {
	return f.keep(entityType, value, normalizeKnown(knownIdentifiers))
}

func (f *Filter) keep(entityType, value string, known []string) bool {
	switch entityType {
	case EntityMedicalCondition:
		return false

	case EntityPerson:
		for _, w := range splitWords(value) {
			if _, ok := f.medicalTerms[w]; ok {
				return false
			}
		}
		if len(known) > 0 && !matchesKnown(value, known) {
			return false
		}

	case EntityDateTime:
		words := splitWords(value)
		if len(words) == 0 {
			return true
		}
		for _, w := range words {
			if _, ok := f.frequencyTokens[w]; ok {
				continue
			}
			if isNumeric(w) {
				continue
			}
			return true
		}
		return false
	}
	return true
}

// splitWords lower-cases s and splits it on whitespace and hyphens.
func splitWords(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-'
	})
}

// isNumeric accepts plain quantities such as "2" or "0.5". Slashed or
// multi-dot forms look like dates and are not numeric.
func isNumeric(s string) bool {
	digits, dots := 0, 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}

func normalizeKnown(identifiers []string) []string {
	var known []string
	for _, id := range identifiers {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			known = append(known, id)
		}
	}
	return known
}

// matchesKnown reports whether value contains, or is contained by, one of
// the (already lower-cased) known identifiers.
func matchesKnown(value string, known []string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	for _, k := range known {
		if strings.Contains(v, k) || strings.Contains(k, v) {
			return true
		}
	}
	return false
}

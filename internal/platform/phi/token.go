package phi

import (
	"regexp"
	"strings"
)

// TokenPrefix starts every vault reference token embedded in stored text.
const TokenPrefix = "phi:vault"

// tokenPattern is the wire grammar of a vault reference: an optional
// upper-case entity type segment followed by the object id.
var tokenPattern = regexp.MustCompile(`phi:vault(?::([A-Z_]+))?:([0-9a-f]{24})`)

var entityTypePattern = regexp.MustCompile(`^[A-Z_]+$`)

// Reference points at one vault entry from inside text.
type Reference struct {
	EntityType string
	ID         string
}

// Token serializes the reference. The type segment is omitted when the type
// is empty or would not survive re-parsing.
func (r Reference) Token() string {
	return FormatToken(r.EntityType, r.ID)
}

// FormatToken builds "phi:vault:<TYPE>:<id>", or "phi:vault:<id>" when the
// entity type is unknown.
func FormatToken(entityType, id string) string {
	if entityType == "" || !entityTypePattern.MatchString(entityType) {
		return TokenPrefix + ":" + id
	}
	return TokenPrefix + ":" + entityType + ":" + id
}

// Segment is one piece of a field's text while it is being processed:
// either literal text or a reference to a vault entry, never both.
type Segment struct {
	Text string
	Ref  *Reference
}

// ParseSegments splits text into literal and reference segments. Text with
// no tokens yields a single literal segment (or none for empty text).
func ParseSegments(text string) []Segment {
	matches := tokenPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		if text == "" {
			return nil
		}
		return []Segment{{Text: text}}
	}

	segs := make([]Segment, 0, 2*len(matches)+1)
	last := 0
	for _, m := range matches {
		if m[0] > last {
			segs = append(segs, Segment{Text: text[last:m[0]]})
		}
		ref := &Reference{ID: text[m[4]:m[5]]}
		if m[2] >= 0 {
			ref.EntityType = text[m[2]:m[3]]
		}
		segs = append(segs, Segment{Ref: ref})
		last = m[1]
	}
	if last < len(text) {
		segs = append(segs, Segment{Text: text[last:]})
	}
	return segs
}

// RenderSegments serializes segments back into the stored text form.
func RenderSegments(segs []Segment) string {
	var b strings.Builder
	for _, s := range segs {
		if s.Ref != nil {
			b.WriteString(s.Ref.Token())
			continue
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

// ContainsTokens reports whether text embeds at least one vault reference.
func ContainsTokens(text string) bool {
	return tokenPattern.MatchString(text)
}

// ReferencedIDs returns the distinct vault ids referenced by text in order
// of first appearance.
func ReferencedIDs(text string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, m := range tokenPattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[2]] {
			seen[m[2]] = true
			ids = append(ids, m[2])
		}
	}
	return ids
}

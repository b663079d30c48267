package phi

import "time"

// Placeholders substituted for vault references in de-identified text.
const (
	PlaceholderName     = "[Name]"
	PlaceholderDate     = "[Date]"
	PlaceholderRedacted = "[Redacted]"
)

// dateLayouts are tried in order when a vaulted DATE_TIME value is reduced
// to its year. Layouts with a day come first; see dobLayouts.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2006",
	"Jan 2006",
	"2006",
}

// Deidentify replaces every vault reference in text with a placeholder
// derived from the referenced entry. Entries are supplied by the caller; no
// storage is touched. References that do not resolve become [Redacted], so
// neither the token nor the value ever reaches the output.
func Deidentify(text string, entries []*VaultEntry) string {
	if !ContainsTokens(text) {
		return text
	}

	byID := make(map[string]*VaultEntry, len(entries))
	for _, e := range entries {
		if e != nil {
			byID[e.ID] = e
		}
	}

	segs := ParseSegments(text)
	for i := range segs {
		if segs[i].Ref == nil {
			continue
		}
		segs[i] = Segment{Text: placeholderFor(byID[segs[i].Ref.ID])}
	}
	return RenderSegments(segs)
}

func placeholderFor(e *VaultEntry) string {
	if e == nil {
		return PlaceholderRedacted
	}
	switch e.PHIType {
	case EntityPerson:
		return PlaceholderName
	case EntityDateTime:
		if t, ok := parseDate(e.Value); ok {
			return t.Format("2006")
		}
		return PlaceholderDate
	default:
		return PlaceholderRedacted
	}
}

// dobLayouts are the dateLayouts that carry a day, the only ones precise
// enough to derive an age.
var dobLayouts = dateLayouts[:14]

func parseDate(value string) (time.Time, bool) {
	return parseWith(value, dateLayouts)
}

func parseWith(value string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

package phi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeidentify(t *testing.T) {
	entries := []*VaultEntry{
		{ID: idA, PHIType: EntityPerson, Value: "John Doe"},
		{ID: idB, PHIType: EntityDateTime, Value: "June 15, 1990"},
		{ID: "65a1f0c2e4b0a1b2c3d4e5f8", PHIType: EntityDateTime, Value: "next Tuesday"},
		{ID: "65a1f0c2e4b0a1b2c3d4e5f9", PHIType: EntityPhoneNumber, Value: "555-123-4567"},
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "No identifiers here.", "No identifiers here."},
		{"person", "Saw phi:vault:PERSON:" + idA + " today", "Saw [Name] today"},
		{"stored type wins over token type", "Saw phi:vault:LOCATION:" + idA, "Saw [Name]"},
		{"date reduced to year", "Born phi:vault:DATE_TIME:" + idB, "Born 1990"},
		{"unparseable date", "Due phi:vault:DATE_TIME:65a1f0c2e4b0a1b2c3d4e5f8", "Due [Date]"},
		{"other type", "Call phi:vault:PHONE_NUMBER:65a1f0c2e4b0a1b2c3d4e5f9", "Call [Redacted]"},
		{"untyped token", "Call phi:vault:65a1f0c2e4b0a1b2c3d4e5f9", "Call [Redacted]"},
		{"unknown id", "Who phi:vault:PERSON:65a1f0c2e4b0a1b2c3d4e5fa", "Who [Redacted]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Deidentify(tt.in, entries))
		})
	}

	t.Run("No entries", func(t *testing.T) {
		assert.Equal(t, "[Redacted] and [Redacted]", Deidentify(FormatToken(EntityPerson, idA)+" and "+FormatToken("", idB), nil))
	})

	t.Run("Idempotent", func(t *testing.T) {
		once := Deidentify("Saw phi:vault:PERSON:"+idA+" on phi:vault:DATE_TIME:"+idB, entries)
		assert.Equal(t, once, Deidentify(once, entries))
	})
}

func TestParseDate(t *testing.T) {
	for _, value := range []string{"1990-06-15", "06/15/1990", "June 15, 1990", "15 Jun 1990", "1990-06-15T08:00:00Z", "1990"} {
		got, ok := parseDate(value)
		if assert.True(t, ok, value) {
			assert.Equal(t, 1990, got.Year(), value)
		}
	}
	_, ok := parseDate("twice a week")
	assert.False(t, ok)
}

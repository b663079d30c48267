package phi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOverlaps(t *testing.T) {
	t.Run("Empty input", func(t *testing.T) {
		assert.Nil(t, ResolveOverlaps(nil))
	})

	t.Run("Higher score wins over earlier start", func(t *testing.T) {
		got := ResolveOverlaps([]Span{
			{Start: 0, End: 10, EntityType: EntityPerson, Score: 0.9},
			{Start: 2, End: 8, EntityType: EntityPerson, Score: 0.95},
		})
		require.Len(t, got, 1)
		assert.Equal(t, 2, got[0].Start)
		assert.Equal(t, 8, got[0].End)
	})

	t.Run("Equal score and end keeps the first under the comparator", func(t *testing.T) {
		got := ResolveOverlaps([]Span{
			{Start: 2, End: 10, EntityType: EntityPerson, Score: 0.9},
			{Start: 0, End: 10, EntityType: EntityPerson, Score: 0.9},
		})
		require.Len(t, got, 1)
		assert.Equal(t, Span{Start: 0, End: 10, EntityType: EntityPerson, Score: 0.9}, got[0])
	})

	t.Run("Equal start prefers the longer span", func(t *testing.T) {
		got := ResolveOverlaps([]Span{
			{Start: 0, End: 4, EntityType: EntityPerson, Score: 0.8},
			{Start: 0, End: 8, EntityType: EntityLocation, Score: 0.8},
		})
		require.Len(t, got, 1)
		assert.Equal(t, EntityLocation, got[0].EntityType)
	})

	t.Run("Identical ranges keep the higher score", func(t *testing.T) {
		got := ResolveOverlaps([]Span{
			{Start: 3, End: 7, EntityType: EntityLocation, Score: 0.4},
			{Start: 3, End: 7, EntityType: EntityPerson, Score: 0.7},
		})
		require.Len(t, got, 1)
		assert.Equal(t, EntityPerson, got[0].EntityType)
	})

	t.Run("Adjacent spans are both accepted", func(t *testing.T) {
		got := ResolveOverlaps([]Span{
			{Start: 5, End: 9, EntityType: EntityPhoneNumber, Score: 0.5},
			{Start: 0, End: 5, EntityType: EntityPerson, Score: 0.5},
		})
		require.Len(t, got, 2)
		assert.Equal(t, 0, got[0].Start)
		assert.Equal(t, 5, got[1].Start)
	})

	t.Run("Input slice is not reordered", func(t *testing.T) {
		in := []Span{{Start: 5, End: 6, Score: 1}, {Start: 0, End: 1, Score: 1}}
		ResolveOverlaps(in)
		assert.Equal(t, 5, in[0].Start)
	})

	t.Run("Three-way overlap compares only the last accepted span", func(t *testing.T) {
		// [0,6) is accepted, [4,12) replaces it on score, and [10,14)
		// only competes with [4,12) even though it never touched [0,6).
		got := ResolveOverlaps([]Span{
			{Start: 0, End: 6, Score: 0.5},
			{Start: 4, End: 12, Score: 0.6},
			{Start: 10, End: 14, Score: 0.9},
		})
		require.Len(t, got, 1)
		assert.Equal(t, 10, got[0].Start)
	})

	t.Run("Output never overlaps", func(t *testing.T) {
		got := ResolveOverlaps([]Span{
			{Start: 0, End: 3, Score: 0.2},
			{Start: 1, End: 9, Score: 0.3},
			{Start: 2, End: 4, Score: 0.9},
			{Start: 8, End: 12, Score: 0.1},
			{Start: 11, End: 20, Score: 0.5},
			{Start: 20, End: 21, Score: 0.5},
		})
		for i := 1; i < len(got); i++ {
			assert.False(t, got[i-1].Overlaps(got[i]), "spans %v and %v overlap", got[i-1], got[i])
		}
	})
}

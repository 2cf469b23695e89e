package wildcard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/wildcard"
)

func TestMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		eventType string
		pattern   string
		want      bool
	}{
		{
			name:      "segment wildcards",
			eventType: "airtable.tbl1.records.created",
			pattern:   "airtable.*.records.*",
			want:      true,
		},
		{
			name:      "literal segment mismatch",
			eventType: "airtable.tbl1.records.created",
			pattern:   "airtable.tbl2.records.*",
			want:      false,
		},
		{
			name:      "bare wildcard matches everything",
			eventType: "x",
			pattern:   "*",
			want:      true,
		},
		{
			name:      "no wildcard requires exact equality",
			eventType: "order.created",
			pattern:   "order.created",
			want:      true,
		},
		{
			name:      "no wildcard rejects prefix",
			eventType: "order.created.v2",
			pattern:   "order.created",
			want:      false,
		},
		{
			name:      "no wildcard rejects suffix",
			eventType: "order.created",
			pattern:   "created",
			want:      false,
		},
		{
			name:      "wildcard spans segments",
			eventType: "airtable.tbl1.records.created",
			pattern:   "airtable.*",
			want:      true,
		},
		{
			name:      "trailing wildcard on event family",
			eventType: "order.updated",
			pattern:   "order.*",
			want:      true,
		},
		{
			name:      "case sensitive",
			eventType: "Order.Created",
			pattern:   "order.created",
			want:      false,
		},
		{
			name:      "empty pattern matches only empty type",
			eventType: "order.created",
			pattern:   "",
			want:      false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, wildcard.Match(tt.eventType, tt.pattern))
		})
	}
}

// Dots in every position must be treated as literals, not regexp
// metacharacters. This deliberately diverges from the legacy behavior where
// only the first dot was escaped and later ones matched any character.
func TestMatch_EscapesAllDots(t *testing.T) {
	t.Parallel()

	assert.False(t, wildcard.Match("orderXcreatedXv2", "order.created.v2"))
	assert.False(t, wildcard.Match("order.createdXv2", "order.created.v2"))
	assert.True(t, wildcard.Match("order.created.v2", "order.created.v2"))
}

func TestCompile(t *testing.T) {
	t.Parallel()

	t.Run("anchored at both ends", func(t *testing.T) {
		t.Parallel()

		re, err := wildcard.Compile("order.*")
		require.NoError(t, err)
		assert.False(t, re.MatchString("prefix.order.created"))
		assert.True(t, re.MatchString("order.created"))
	})

	t.Run("regexp metacharacters are literals", func(t *testing.T) {
		t.Parallel()

		re, err := wildcard.Compile("order.(created|deleted)")
		require.NoError(t, err)
		assert.False(t, re.MatchString("order.created"))
		assert.True(t, re.MatchString("order.(created|deleted)"))
	})
}

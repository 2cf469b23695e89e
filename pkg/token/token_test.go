package token_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/hookrelay/pkg/token"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("keeps prefix and length", func(t *testing.T) {
		t.Parallel()

		got, err := token.New("wbhk_", 8)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(got, "wbhk_"))
		assert.Len(t, got, len("wbhk_")+8)
	})

	t.Run("empty prefix", func(t *testing.T) {
		t.Parallel()

		got, err := token.New("", 12)
		require.NoError(t, err)
		assert.Len(t, got, 12)
	})

	t.Run("rejects non-positive length", func(t *testing.T) {
		t.Parallel()

		_, err := token.New("evt_", 0)
		assert.Error(t, err)

		_, err = token.New("evt_", -1)
		assert.Error(t, err)
	})

	t.Run("no duplicates across many tokens", func(t *testing.T) {
		t.Parallel()

		seen := make(map[string]struct{}, 1000)
		for i := 0; i < 1000; i++ {
			got, err := token.New("evt_", token.DefaultSecretLength)
			require.NoError(t, err)

			_, dup := seen[got]
			require.False(t, dup, "duplicate token %s", got)
			seen[got] = struct{}{}
		}
	})
}

func TestMustNew(t *testing.T) {
	t.Parallel()

	assert.NotPanics(t, func() {
		got := token.MustNew("wbhk_sec_", token.DefaultSecretLength)
		assert.True(t, strings.HasPrefix(got, "wbhk_sec_"))
	})
}

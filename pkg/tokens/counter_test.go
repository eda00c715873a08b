package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCounter(t *testing.T) {
	t.Run("resolves known model", func(t *testing.T) {
		c, err := NewCounter("gpt-4o-mini")
		require.NoError(t, err)
		assert.NotEmpty(t, c.Encoding())
	})

	t.Run("falls back to default encoding", func(t *testing.T) {
		c, err := NewCounter("definitely-not-a-model")
		require.NoError(t, err)
		assert.Equal(t, "cl100k_base", c.Encoding())
	})

	t.Run("empty name uses default", func(t *testing.T) {
		c, err := NewCounter("")
		require.NoError(t, err)
		assert.Equal(t, "cl100k_base", c.Encoding())
	})
}

func TestCounterCount(t *testing.T) {
	c, err := NewCounter("cl100k_base")
	require.NoError(t, err)

	assert.Equal(t, 0, c.Count(""))
	assert.Greater(t, c.Count("hello world"), 0)
	// Longer text costs more tokens.
	assert.Greater(t, c.Count("the quick brown fox jumps over the lazy dog"), c.Count("the quick"))
}

type sizedInt int

func (s sizedInt) Tokens() int { return int(s) }

func TestNewestSuffix(t *testing.T) {
	items := []sizedInt{10, 20, 30, 40}

	t.Run("keeps newest entries within budget", func(t *testing.T) {
		got := NewestSuffix(items, 70)
		assert.Equal(t, []sizedInt{30, 40}, got)
	})

	t.Run("keeps everything when budget allows", func(t *testing.T) {
		got := NewestSuffix(items, 100)
		assert.Equal(t, items, got)
	})

	t.Run("empty when newest alone exceeds budget", func(t *testing.T) {
		got := NewestSuffix(items, 5)
		assert.Nil(t, got)
	})

	t.Run("exact boundary is kept", func(t *testing.T) {
		got := NewestSuffix(items, 40)
		assert.Equal(t, []sizedInt{40}, got)
	})

	t.Run("zero budget", func(t *testing.T) {
		assert.Nil(t, NewestSuffix(items, 0))
	})
}

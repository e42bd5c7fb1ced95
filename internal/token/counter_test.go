package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimatedCounter_Empty(t *testing.T) {
	c := NewEstimatedCounter(4.0)
	assert.Equal(t, 0, c.Count(""))
}

func TestEstimatedCounter_Prose(t *testing.T) {
	c := NewEstimatedCounter(4.0)
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 100)

	got := c.Count(text)
	// 4400 chars, 900 words: char estimate 1100, word estimate 1170.
	assert.InDelta(t, 1135, got, 50)
}

func TestEstimatedCounter_NoWhitespace(t *testing.T) {
	c := NewEstimatedCounter(4.0)
	assert.Equal(t, 4, c.Count(strings.Repeat("x", 16)))
}

func TestEstimatedCounter_DivisorFallback(t *testing.T) {
	c := NewEstimatedCounter(0)
	assert.Equal(t, DefaultCharsPerToken, c.CharsPerToken)
}

func TestEstimatedCounter_Deterministic(t *testing.T) {
	c := NewEstimatedCounter(4.0)
	text := "## Heading\n\nSome note content with [[links]] and #tags."
	first := c.Count(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Count(text))
	}
}

func TestEstimatedCounter_Monotonic(t *testing.T) {
	c := NewEstimatedCounter(4.0)
	short := strings.Repeat("word ", 50)
	long := strings.Repeat("word ", 500)
	assert.Less(t, c.Count(short), c.Count(long))
}

func TestNewCounter_FallsBackOnUnknownEncoding(t *testing.T) {
	c := NewCounter("no_such_encoding", 4.0)
	assert.Equal(t, "estimated", c.Name())
}

func TestNewCounter_EmptyEncodingUsesEstimator(t *testing.T) {
	c := NewCounter("", 5.0)
	est, ok := c.(*EstimatedCounter)
	assert.True(t, ok)
	assert.Equal(t, 5.0, est.CharsPerToken)
}

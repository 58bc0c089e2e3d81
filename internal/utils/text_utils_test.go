package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestClipRunes(t *testing.T) {
	assert.Equal(t, "héll", ClipRunes("héllo", 4))
	assert.Equal(t, "héllo", ClipRunes("héllo", 5))
	assert.Equal(t, "héllo", ClipRunes("héllo", 0))
	assert.Equal(t, "", ClipRunes("", 3))
}

func TestExcerptCutsOnRuneBoundary(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "short", tp.Excerpt("short", 10))

	// "é" is two bytes; a cut after the first byte backs off to the rune start
	out := tp.Excerpt("aé"+strings.Repeat("x", 10), 2)
	assert.Equal(t, "a"+TruncationMarker, out)
}

func TestProcessTextDropsInvalidUTF8(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())
	assert.Equal(t, "ab", tp.ProcessText("a\xffb", 0))
}

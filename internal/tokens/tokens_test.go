package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountEmpty(t *testing.T) {
	assert.Equal(t, 0, Count(""))
}

func TestCountPositiveForNonEmpty(t *testing.T) {
	assert.Greater(t, Count("the quick brown fox"), 0)
}

func TestTruncateToTokensNoOpForZero(t *testing.T) {
	assert.Equal(t, "anything", TruncateToTokens("anything", 0))
}

func TestTruncateToTokensShortensLongText(t *testing.T) {
	text := strings.Repeat("hello world ", 200)
	got := TruncateToTokens(text, 5)
	assert.NotEqual(t, text, got)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTruncateToTokensLeavesShortTextAlone(t *testing.T) {
	assert.Equal(t, "short", TruncateToTokens("short", 100))
}

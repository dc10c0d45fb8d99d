package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	assert.Positive(t, CountTokens("hello world"))
	assert.Greater(t, CountTokens("the quick brown fox jumps over the lazy dog"), CountTokens("fox"))
}

func TestCountTokensForModel(t *testing.T) {
	text := "Summarize the following review in one sentence."
	assert.Positive(t, CountTokensForModel(text, "gpt-4o-mini"))
	assert.Positive(t, CountTokensForModel(text, "claude-3-5-haiku"))
}

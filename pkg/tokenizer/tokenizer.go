package tokenizer

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecs   sync.Map // encoding name -> tokenizer.Codec
	fallback = tokenizer.Cl100kBase
)

// CountTokens counts cl100k_base tokens in text.
func CountTokens(text string) int {
	return CountTokensForModel(text, "")
}

// CountTokensForModel counts tokens with the encoding tiktoken associates
// with model. Unknown models use cl100k_base; if no codec can be loaded it
// falls back to a word-based estimate.
func CountTokensForModel(text, model string) int {
	if text == "" {
		return 0
	}

	codec, ok := codecFor(model)
	if !ok {
		return estimate(text)
	}

	ids, _, err := codec.Encode(text)
	if err != nil {
		return estimate(text)
	}
	return len(ids)
}

func codecFor(model string) (tokenizer.Codec, bool) {
	key := encodingFor(model)
	if c, ok := codecs.Load(key); ok {
		return c.(tokenizer.Codec), true
	}

	codec, err := tokenizer.Get(key)
	if err != nil {
		return nil, false
	}
	codecs.Store(key, codec)
	return codec, true
}

func encodingFor(model string) tokenizer.Encoding {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return tokenizer.O200kBase
	default:
		return fallback
	}
}

func estimate(text string) int {
	words := strings.Fields(text)
	return max(len(words)*4/3, 1)
}

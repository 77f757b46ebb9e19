// Package tokens counts model tokens in message text.
package tokens

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
)

func getCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		enc, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("Tokenizer unavailable, token counts disabled")
			return
		}
		codec = enc
	})
	return codec
}

// Count returns the cl100k_base token count of text, or 0 when the
// tokenizer could not be loaded.
func Count(text string) int {
	if text == "" {
		return 0
	}
	enc := getCodec()
	if enc == nil {
		return 0
	}
	ids, _, err := enc.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}

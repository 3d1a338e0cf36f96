// Package tokens counts AI text in model tokens for usage metering.
package tokens

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"resume-billing/internal/domain/ports/adapter"
	"resume-billing/internal/infra/metrics"
)

const DefaultEncoding = "cl100k_base"

var _ adapter.TokenCounter = (*Counter)(nil)

type encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// Counter encodes with tiktoken. When the encoding cannot be loaded it falls
// back to an estimate of four bytes per token.
type Counter struct {
	enc encoder
}

func NewCounter(encoding string, logger *zerolog.Logger) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn().Err(err).Str("encoding", encoding).Msg("tiktoken unavailable, estimating tokens")
		return &Counter{}
	}
	return &Counter{enc: enc}
}

func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	var n int
	if c.enc == nil {
		n = Estimate(text)
	} else {
		n = len(c.enc.Encode(text, nil, nil))
	}
	metrics.AddAITokens(int64(n))
	return n
}

// Estimate approximates a token count without an encoding table.
func Estimate(text string) int {
	n := (len(text) + 3) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

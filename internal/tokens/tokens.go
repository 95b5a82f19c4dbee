// Package tokens estimates how many model tokens a piece of text occupies.
package tokens

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used for every model.
const DefaultEncoding = "cl100k_base"

// charsPerToken is the ratio used when no tokenizer is available.
const charsPerToken = 4

// Counter counts tokens in text. Implementations must be safe for concurrent use.
type Counter interface {
	Count(text string) int
}

// Tiktoken counts with a BPE encoding.
type Tiktoken struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads the cl100k_base encoding.
func NewTiktoken() (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, err
	}
	return &Tiktoken{enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	if text == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// Estimator approximates four characters per token.
type Estimator struct{}

// NewEstimator returns the deterministic character-ratio counter.
func NewEstimator() Estimator {
	return Estimator{}
}

func (Estimator) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// Default returns the tiktoken counter, or the estimator when the encoding
// cannot be loaded (for example without network access to fetch the BPE file).
func Default(logger *slog.Logger) Counter {
	counter, err := NewTiktoken()
	if err != nil {
		if logger != nil {
			logger.Warn("token_encoding_unavailable",
				"encoding", DefaultEncoding,
				"error", err,
			)
		}
		return NewEstimator()
	}
	return counter
}

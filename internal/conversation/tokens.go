package conversation

import "github.com/tiktoken-go/tokenizer"

// TokenCounter counts tokens for window budgeting.
type TokenCounter interface {
	Count(text string) int
}

// TikTokenCounter counts with the GPT-4 encoding, which approximates the
// tokenization of every model the completion client targets closely enough
// for budgeting.
type TikTokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a TikTokenCounter. If the codec cannot be built it
// still returns a usable counter that falls back to character estimation.
func NewTokenCounter() *TikTokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TikTokenCounter{}
	}
	return &TikTokenCounter{codec: codec}
}

// Count returns the number of tokens in text, estimating 4 chars per token
// when no codec is available.
func (t *TikTokenCounter) Count(text string) int {
	if t.codec == nil {
		return len(text) / 4
	}
	count, err := t.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

// Package token provides the single token-counting rule used across the
// engine. Indexing and packing must count with the same Counter so budget
// checks are reproducible.
package token

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultCharsPerToken is the estimation divisor for English prose.
const DefaultCharsPerToken = 4.0

// Counter counts tokens in text.
type Counter interface {
	// Count returns the token count for the given text.
	Count(text string) int

	// Name identifies the counting rule, for logging and cache keys.
	Name() string
}

// TiktokenCounter counts with a tiktoken BPE encoding.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	name     string
}

// NewTiktokenCounter creates a counter for the named encoding
// (e.g. "cl100k_base").
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{encoding: enc, name: "tiktoken/" + encoding}, nil
}

// Count returns the exact token count under the configured encoding.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Name identifies the counting rule.
func (c *TiktokenCounter) Name() string {
	return c.name
}

// EstimatedCounter approximates token counts from character and word counts.
// Used when the tiktoken encoding is unavailable (e.g. no cached BPE data).
// The divisor is configurable; 4 chars/token is reasonable for English prose
// but should be validated against the downstream model's tokenizer.
type EstimatedCounter struct {
	CharsPerToken float64
}

// NewEstimatedCounter creates an estimator with the given divisor.
// Non-positive divisors fall back to DefaultCharsPerToken.
func NewEstimatedCounter(charsPerToken float64) *EstimatedCounter {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &EstimatedCounter{CharsPerToken: charsPerToken}
}

// Count returns the estimated token count. The estimate blends a
// character-based and a word-based figure, which tracks real tokenizers
// better on markdown than either alone.
func (c *EstimatedCounter) Count(text string) int {
	if text == "" {
		return 0
	}

	charBased := int(float64(len(text)) / c.CharsPerToken)
	words := len(strings.Fields(text))
	if words == 0 {
		return charBased
	}
	wordBased := int(float64(words) * 1.3)

	return (charBased + wordBased) / 2
}

// Name identifies the counting rule.
func (c *EstimatedCounter) Name() string {
	return "estimated"
}

// NewCounter returns the best available counter for the encoding: tiktoken
// when its BPE data can be loaded, otherwise the character estimator.
func NewCounter(encoding string, charsPerToken float64) Counter {
	if encoding != "" {
		if c, err := NewTiktokenCounter(encoding); err == nil {
			return c
		}
	}
	return NewEstimatedCounter(charsPerToken)
}

var (
	_ Counter = (*TiktokenCounter)(nil)
	_ Counter = (*EstimatedCounter)(nil)
)

// Package utils holds small helpers shared across finrag packages.
package utils

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens for a model's encoding.
// A nil *TokenCounter is usable and falls back to a rune-based estimate.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for model, falling back to cl100k_base
// for models tiktoken does not know.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count of text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// Model returns the model name the counter was created for.
func (tc *TokenCounter) Model() string {
	if tc == nil {
		return ""
	}
	return tc.model
}

// FitBlocks keeps the longest prefix of blocks whose total, together with
// fixed, stays within maxTokens. The first block is dropped last.
func (tc *TokenCounter) FitBlocks(fixed string, blocks []string, maxTokens int) []string {
	if maxTokens <= 0 {
		return blocks
	}
	used := tc.Count(fixed)
	kept := make([]string, 0, len(blocks))
	for _, b := range blocks {
		n := tc.Count(b)
		if used+n > maxTokens {
			break
		}
		used += n
		kept = append(kept, b)
	}
	return kept
}

// EstimateTokens is a rough estimate used when no encoding is available.
// CJK text runs close to one token per rune, so runes are counted rather than bytes.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text)
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

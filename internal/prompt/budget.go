// Package prompt prepares user prompts before submission: token-budget
// validation and optional reference context pulled from a URL.
package prompt

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultMaxTokens bounds a prompt (including any fetched context)
// before it is allowed to reach the generation service.
const DefaultMaxTokens = 8000

// Budget is a token-count guard over prompts. It satisfies the
// orchestrator's PromptGuard interface.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
}

// NewBudget creates a Budget with the given token ceiling. A
// non-positive ceiling falls back to DefaultMaxTokens.
func NewBudget(maxTokens int) (*Budget, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("get tokenizer: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Budget{tokenizer: enc, maxTokens: maxTokens}, nil
}

// CountTokens returns the token count for the given text.
func (b *Budget) CountTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Check rejects prompts that exceed the token ceiling.
func (b *Budget) Check(prompt string) error {
	if n := b.CountTokens(prompt); n > b.maxTokens {
		return fmt.Errorf("prompt is %d tokens, limit is %d", n, b.maxTokens)
	}
	return nil
}

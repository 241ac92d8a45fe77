package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/finrag/pkg/gateway"
)

// Generator is the part of the gateway the LLM scorer needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts gateway.GenerateOptions) (string, error)
}

// LLMScorer asks a generation model for one relevance probability per passage.
type LLMScorer struct {
	llm Generator
}

func NewLLMScorer(llm Generator) *LLMScorer {
	return &LLMScorer{llm: llm}
}

const llmScorerSystem = "你是检索结果相关性评分系统。只输出JSON数组，不要输出其他内容。"

func (s *LLMScorer) Score(ctx context.Context, pairs []Pair) ([]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "问题: %s\n\n", sanitize(pairs[0].Query))
	for i, p := range pairs {
		fmt.Fprintf(&sb, "段落 %d:\n%s\n\n", i+1, sanitize(p.Content))
	}
	fmt.Fprintf(&sb, "请为以上 %d 个段落分别给出与问题相关的概率（0到1之间的小数），按段落顺序返回JSON数组，例如 [0.9, 0.1]。", len(pairs))

	resp, err := s.llm.Generate(ctx, sb.String(), gateway.GenerateOptions{
		Temperature:  0,
		MaxTokens:    16 * len(pairs),
		SystemPrompt: llmScorerSystem,
	})
	if err != nil {
		return nil, fmt.Errorf("llm scoring failed: %w", err)
	}

	scores, err := parseScores(resp)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(pairs) {
		return nil, &CountMismatchError{Want: len(pairs), Got: len(scores)}
	}
	for i, v := range scores {
		scores[i] = min(max(v, 0), 1)
	}
	return scores, nil
}

// parseScores reads the JSON array between the first "[" and the last "]",
// so surrounding prose or code fences are tolerated.
func parseScores(response string) ([]float64, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var scores []float64
	if err := json.Unmarshal([]byte(response[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("invalid score array: %w", err)
	}
	return scores, nil
}

// sanitize keeps passage text from closing the prompt structure early.
func sanitize(s string) string {
	return strings.NewReplacer("```", "", "\r", "").Replace(s)
}

package coordinator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/finrag/pkg/retrieval"
	"github.com/kadirpekel/finrag/pkg/utils"
)

const (
	promptDocs      = 5
	promptDocRunes  = 500
	promptHistory   = 5
	unknownSource   = "未知来源"
	answerFallback  = "抱歉，服务暂时不可用，请稍后再试。"
	answerMaxLength = 200
)

// buildPrompt assembles the grounded generation prompt. history is the
// window to render, the current question included. Knowledge blocks are
// dropped from the tail when the prompt would exceed maxTokens.
func buildPrompt(tc *utils.TokenCounter, maxTokens int, query string, docs []retrieval.Document, tool *ToolInvocation, history []Message) string {
	var blocks []string
	for i, d := range docs {
		if i == promptDocs {
			break
		}
		src := d.Source
		if src == "" {
			src = unknownSource
		}
		blocks = append(blocks, fmt.Sprintf("来源：%s\n内容：%s\n", src, utils.TruncateRunes(d.Content, promptDocRunes)))
	}

	var toolPart string
	if tool != nil && tool.Result != nil {
		data, err := json.Marshal(tool.Result)
		if err != nil {
			data = []byte(fmt.Sprint(tool.Result))
		}
		toolPart = fmt.Sprintf("工具 %s 的结果：\n%s\n", tool.Name, data)
	}

	var hist strings.Builder
	for _, m := range history {
		fmt.Fprintf(&hist, "%s: %s\n", m.Role, m.Content)
	}

	render := func(knowledge []string) string {
		var b strings.Builder
		b.WriteString("你是一名专业的金融分析助手。请仅根据以下知识回答用户问题。\n\n")
		b.WriteString("知识：\n")
		if len(knowledge) == 0 {
			b.WriteString("（无相关知识）\n")
		}
		for _, k := range knowledge {
			b.WriteString(k)
			b.WriteString("\n")
		}
		if toolPart != "" {
			b.WriteString("\n")
			b.WriteString(toolPart)
		}
		if hist.Len() > 0 {
			b.WriteString("\n对话历史：\n")
			b.WriteString(hist.String())
		}
		fmt.Fprintf(&b, "\n问题：%s\n\n", query)
		b.WriteString("要求：\n")
		b.WriteString("1. 只依据上述知识作答，不要编造信息\n")
		b.WriteString("2. 如果知识不足以回答，请明确说明\n")
		fmt.Fprintf(&b, "3. 回答简洁，不超过%d字\n", answerMaxLength)
		b.WriteString("4. 涉及数据时注明具体数值\n")
		if toolPart != "" {
			b.WriteString("5. 结合工具结果作答\n")
		}
		b.WriteString("\n回答：")
		return b.String()
	}

	if tc == nil || len(blocks) == 0 {
		return render(blocks)
	}
	return render(tc.FitBlocks(render(nil), blocks, maxTokens))
}

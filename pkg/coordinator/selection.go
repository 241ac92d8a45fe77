package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/finrag/pkg/gateway"
)

// NoTool is the model's answer when the question needs no tool.
const NoTool = "none"

// ToolInvocation records a tool call made during a turn.
type ToolInvocation struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type toolDecision struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// selectTool asks the model for a tool and falls back to the intent rules
// when the answer is unusable. A nil result means no tool.
func (c *Coordinator) selectTool(ctx context.Context, query string, intent Intent, tools []mcp.Tool) *ToolInvocation {
	known := make(map[string]bool, len(tools))
	var catalog strings.Builder
	for _, t := range tools {
		known[t.Name] = true
		fmt.Fprintf(&catalog, "- %s: %s\n", t.Name, t.Description)
	}

	intentJSON, _ := json.Marshal(intent)
	prompt := fmt.Sprintf(`根据用户问题选择一个工具，或说明不需要工具。

问题：%s
意图：%s

可用工具：
%s
仅返回JSON：{"tool": "工具名或none", "arguments": {...}}`, query, intentJSON, catalog.String())

	out, err := c.llm.Generate(ctx, prompt, gateway.GenerateOptions{Temperature: 0.1, MaxTokens: 500})
	if err == nil {
		if d, ok := parseDecision(out); ok {
			if d.Tool == NoTool {
				return nil
			}
			if known[d.Tool] {
				if d.Arguments == nil {
					d.Arguments = map[string]any{}
				}
				return &ToolInvocation{Name: d.Tool, Arguments: d.Arguments}
			}
			slog.Debug("Model chose an unknown tool", "tool", d.Tool)
		}
	} else {
		slog.Warn("Tool selection failed, using rules", "error", err)
	}

	inv := ruleTool(intent)
	if inv != nil && !known[inv.Name] {
		return nil
	}
	return inv
}

func parseDecision(out string) (toolDecision, bool) {
	start, end := strings.Index(out, "{"), strings.LastIndex(out, "}")
	if start == -1 || end <= start {
		return toolDecision{}, false
	}
	var d toolDecision
	if err := json.Unmarshal([]byte(out[start:end+1]), &d); err != nil || d.Tool == "" {
		return toolDecision{}, false
	}
	d.Tool = strings.TrimSpace(d.Tool)
	if strings.EqualFold(d.Tool, NoTool) {
		d.Tool = NoTool
	}
	return d, true
}

// ruleTool maps an intent onto a tool call, or nil when nothing fits.
func ruleTool(in Intent) *ToolInvocation {
	switch in.Type {
	case IntentQuery:
		if in.Company != "" && in.Indicator != "" && in.Year != 0 {
			return &ToolInvocation{Name: "query_report_indicator", Arguments: map[string]any{
				"company": in.Company, "indicator": in.Indicator, "year": in.Year,
			}}
		}
	case IntentCompare:
		if in.Company != "" && in.Indicator != "" {
			companies := in.Companies
			if len(companies) == 0 {
				companies = []string{in.Company}
			}
			end := in.Year
			if end == 0 {
				end = latestReportYear
			}
			return &ToolInvocation{Name: "compare_indicators", Arguments: map[string]any{
				"companies": companies, "indicator": in.Indicator, "start_year": end - 1, "end_year": end,
			}}
		}
	case IntentAttribution:
		if in.Company != "" && in.Indicator != "" && in.Year != 0 {
			return &ToolInvocation{Name: "analyze_attribution", Arguments: map[string]any{
				"company": in.Company, "indicator": in.Indicator, "base_year": in.Year - 1, "target_year": in.Year,
			}}
		}
	case IntentTrend:
		if in.Company != "" && in.Indicator != "" {
			return &ToolInvocation{Name: "predict_trend", Arguments: map[string]any{
				"company": in.Company, "indicator": in.Indicator, "years": 2,
			}}
		}
	case IntentRisk:
		if in.Company != "" && in.Year != 0 {
			return &ToolInvocation{Name: "analyze_risk", Arguments: map[string]any{
				"company": in.Company, "year": in.Year,
			}}
		}
	}
	return nil
}

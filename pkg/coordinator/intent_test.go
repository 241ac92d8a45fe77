package coordinator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/finrag/pkg/finance"
	"github.com/kadirpekel/finrag/pkg/retrieval"
	"github.com/kadirpekel/finrag/pkg/utils"
)

func TestRuleIntent(t *testing.T) {
	vocab := finance.Default()
	tests := []struct {
		name string
		text string
		want Intent
	}{
		{
			name: "query",
			text: "贵州茅台2023年营收",
			want: Intent{Type: IntentQuery, Company: "贵州茅台", Companies: []string{"贵州茅台"}, Indicator: "营收", Year: 2023},
		},
		{
			name: "compare with aliases",
			text: "招行和工行2022年不良贷款率对比",
			want: Intent{Type: IntentCompare, Company: "招商银行", Companies: []string{"招商银行", "工商银行"}, Indicator: "不良率", Year: 2022},
		},
		{
			name: "risk with quarter",
			text: "建设银行2023年Q3有什么风险",
			want: Intent{Type: IntentRisk, Company: "建设银行", Companies: []string{"建设银行"}, Year: 2023, Quarter: "Q3"},
		},
		{
			name: "nothing recognised",
			text: "你好",
			want: Intent{Type: IntentQuery},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ruleIntent(vocab, tt.text)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, tt.want.Company, got.Company)
			assert.Equal(t, tt.want.Indicator, got.Indicator)
			assert.Equal(t, tt.want.Year, got.Year)
			if tt.want.Companies != nil {
				assert.Equal(t, tt.want.Companies, got.Companies)
			}
			if tt.want.Quarter != "" {
				assert.Equal(t, tt.want.Quarter, got.Quarter)
			}
		})
	}
}

func TestMergeIntent_RulesWinOnFields(t *testing.T) {
	vocab := finance.Default()
	rules := ruleIntent(vocab, "贵州茅台2023年营收")

	li, ok := parseLLMIntent("好的：\n{\"type\": \"归因分析\", \"company\": \"招行\", \"indicator\": \"净利润\", \"year\": 2020}")
	require.True(t, ok)
	got := mergeIntent(vocab, rules, li, ok)
	assert.Equal(t, IntentAttribution, got.Type)
	assert.Equal(t, "贵州茅台", got.Company)
	assert.Equal(t, "营收", got.Indicator)
	assert.Equal(t, 2023, got.Year)

	li, ok = parseLLMIntent(`{"type": "unknown"}`)
	require.True(t, ok)
	assert.Equal(t, IntentQuery, mergeIntent(vocab, rules, li, ok).Type)

	_, ok = parseLLMIntent("not json")
	assert.False(t, ok)
	assert.Equal(t, rules, mergeIntent(vocab, rules, llmIntent{}, false))
}

func TestToString(t *testing.T) {
	assert.Equal(t, "2020", toString(float64(2020)))
	assert.Equal(t, "2023年", toString("2023年"))
	assert.Equal(t, "", toString(nil))
}

func TestIntentFilters(t *testing.T) {
	assert.Equal(t, map[string]any{}, Intent{Type: IntentQuery}.Filters())
	assert.Equal(t, map[string]any{"company": "招商银行", "year": 2022},
		Intent{Company: "招商银行", Indicator: "不良率", Year: 2022}.Filters())
}

func TestRuleTool(t *testing.T) {
	tests := []struct {
		name     string
		in       Intent
		wantName string
		wantArgs map[string]any
	}{
		{
			name:     "query",
			in:       Intent{Type: IntentQuery, Company: "贵州茅台", Indicator: "营收", Year: 2023},
			wantName: "query_report_indicator",
			wantArgs: map[string]any{"company": "贵州茅台", "indicator": "营收", "year": 2023},
		},
		{
			name:     "compare defaults to the latest two years",
			in:       Intent{Type: IntentCompare, Company: "招商银行", Companies: []string{"招商银行", "工商银行"}, Indicator: "不良率"},
			wantName: "compare_indicators",
			wantArgs: map[string]any{"companies": []string{"招商银行", "工商银行"}, "indicator": "不良率", "start_year": 2022, "end_year": 2023},
		},
		{
			name:     "attribution",
			in:       Intent{Type: IntentAttribution, Company: "贵州茅台", Indicator: "净利润", Year: 2023},
			wantName: "analyze_attribution",
			wantArgs: map[string]any{"company": "贵州茅台", "indicator": "净利润", "base_year": 2022, "target_year": 2023},
		},
		{
			name:     "trend",
			in:       Intent{Type: IntentTrend, Company: "贵州茅台", Indicator: "营收"},
			wantName: "predict_trend",
			wantArgs: map[string]any{"company": "贵州茅台", "indicator": "营收", "years": 2},
		},
		{
			name:     "risk",
			in:       Intent{Type: IntentRisk, Company: "招商银行", Year: 2023},
			wantName: "analyze_risk",
			wantArgs: map[string]any{"company": "招商银行", "year": 2023},
		},
		{name: "query without year", in: Intent{Type: IntentQuery, Company: "贵州茅台", Indicator: "营收"}},
		{name: "risk without company", in: Intent{Type: IntentRisk, Year: 2023}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ruleTool(tt.in)
			if tt.wantName == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantArgs, got.Arguments)
		})
	}
}

func TestParseDecision(t *testing.T) {
	d, ok := parseDecision(`{"tool": "NONE"}`)
	require.True(t, ok)
	assert.Equal(t, NoTool, d.Tool)

	_, ok = parseDecision(`{"arguments": {}}`)
	assert.False(t, ok)
	_, ok = parseDecision("使用 query_report_indicator")
	assert.False(t, ok)
}

func TestBuildPrompt(t *testing.T) {
	long := strings.Repeat("营", 800)
	docs := []retrieval.Document{
		{Source: "a.pdf", Content: long},
		{Content: "无来源"},
		{Source: "c.pdf", Content: "c"}, {Source: "d.pdf", Content: "d"},
		{Source: "e.pdf", Content: "e"}, {Source: "f.pdf", Content: "f"},
	}
	history := []Message{
		{Role: RoleUser, Content: "h1"}, {Role: RoleAssistant, Content: "h2"},
		{Role: RoleUser, Content: "h3"}, {Role: RoleAssistant, Content: "h4"},
		{Role: RoleUser, Content: "h5"}, {Role: RoleAssistant, Content: "h6"},
	}
	tool := &ToolInvocation{Name: "query_report_indicator", Result: map[string]any{"value": 1.5e11}}

	conv := &Conversation{Messages: history}
	p := buildPrompt(nil, 0, "贵州茅台2023年营收", docs, tool, conv.Recent(promptHistory))
	assert.Contains(t, p, "来源：a.pdf\n内容："+strings.Repeat("营", 500)+"\n")
	assert.NotContains(t, p, strings.Repeat("营", 501))
	assert.Contains(t, p, "来源："+unknownSource)
	assert.Contains(t, p, "来源：e.pdf")
	assert.NotContains(t, p, "来源：f.pdf")
	assert.Contains(t, p, `{"value":150000000000}`)
	assert.NotContains(t, p, "user: h1")
	assert.Contains(t, p, "assistant: h2")
	assert.Contains(t, p, "问题：贵州茅台2023年营收")
	assert.Contains(t, p, "5. 结合工具结果作答")
}

func TestBuildPrompt_BudgetDropsTailBlocks(t *testing.T) {
	tc, err := utils.NewTokenCounter("gpt-4o-mini")
	if err != nil {
		t.Skipf("tokenizer unavailable: %v", err)
	}
	docs := []retrieval.Document{
		{Source: "first.pdf", Content: strings.Repeat("收入增长 ", 60)},
		{Source: "second.pdf", Content: strings.Repeat("利润下降 ", 60)},
	}
	fixed := buildPrompt(tc, 0, "q", nil, nil, nil)
	limit := tc.Count(fixed) + tc.Count("来源：first.pdf\n内容："+docs[0].Content+"\n") + 5

	p := buildPrompt(tc, limit, "q", docs, nil, nil)
	assert.Contains(t, p, "first.pdf")
	assert.NotContains(t, p, "second.pdf")
}

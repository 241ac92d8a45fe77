package coordinator

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kadirpekel/finrag/pkg/finance"
)

// Intent types.
const (
	IntentQuery       = "query"
	IntentCompare     = "compare"
	IntentAttribution = "attribution"
	IntentTrend       = "trend"
	IntentRisk        = "risk"
)

// Intent is what a question asks about.
type Intent struct {
	Type      string   `json:"type"`
	Company   string   `json:"company,omitempty"`
	Companies []string `json:"companies,omitempty"`
	Indicator string   `json:"indicator,omitempty"`
	Year      int      `json:"year,omitempty"`
	Quarter   string   `json:"quarter,omitempty"`
}

// Filters is the retrieval metadata filter for the intent.
func (i Intent) Filters() map[string]any {
	f := map[string]any{}
	if i.Company != "" {
		f["company"] = i.Company
	}
	if i.Year != 0 {
		f["year"] = i.Year
	}
	return f
}

// typeKeywords are checked in order; the first hit decides the type.
var typeKeywords = []struct {
	intent string
	words  []string
}{
	{IntentCompare, []string{"对比", "比较", "相比", "差异", "哪家", "排名"}},
	{IntentAttribution, []string{"原因", "为什么", "归因", "导致", "驱动"}},
	{IntentTrend, []string{"趋势", "预测", "走势", "未来", "展望"}},
	{IntentRisk, []string{"风险", "预警", "异常", "隐患"}},
}

// llmTypes maps the labels the model may answer with.
var llmTypes = map[string]string{
	IntentQuery:       IntentQuery,
	IntentCompare:     IntentCompare,
	IntentAttribution: IntentAttribution,
	IntentTrend:       IntentTrend,
	IntentRisk:        IntentRisk,
	"指标查询":            IntentQuery,
	"对比分析":            IntentCompare,
	"归因分析":            IntentAttribution,
	"趋势分析":            IntentTrend,
	"风险分析":            IntentRisk,
}

func keywordType(text string) string {
	for _, k := range typeKeywords {
		for _, w := range k.words {
			if strings.Contains(text, w) {
				return k.intent
			}
		}
	}
	return IntentQuery
}

// ruleIntent reads company, indicator and period from the text.
func ruleIntent(vocab *finance.Vocabulary, text string) Intent {
	companies := vocab.ExtractCompanies(text)
	in := Intent{
		Type:      keywordType(text),
		Companies: companies,
		Indicator: vocab.ExtractIndicator(text),
		Year:      finance.ExtractYear(text),
		Quarter:   finance.ExtractQuarter(text),
	}
	if len(companies) > 0 {
		in.Company = companies[0]
	}
	return in
}

// llmIntent is the shape the extraction prompt asks for.
type llmIntent struct {
	Type      string `json:"type"`
	Company   string `json:"company"`
	Indicator string `json:"indicator"`
	Year      any    `json:"year"`
}

func parseLLMIntent(out string) (llmIntent, bool) {
	start, end := strings.Index(out, "{"), strings.LastIndex(out, "}")
	if start == -1 || end <= start {
		return llmIntent{}, false
	}
	var li llmIntent
	if err := json.Unmarshal([]byte(out[start:end+1]), &li); err != nil {
		return llmIntent{}, false
	}
	return li, true
}

// mergeIntent keeps the rule fields and takes only the type from the model.
// Disagreements on the structured fields are logged.
func mergeIntent(vocab *finance.Vocabulary, rules Intent, li llmIntent, ok bool) Intent {
	if !ok {
		return rules
	}
	if t, known := llmTypes[strings.ToLower(strings.TrimSpace(li.Type))]; known {
		rules.Type = t
	}

	if c := vocab.CanonicalCompany(li.Company); c != "" && c != rules.Company {
		slog.Info("Intent extraction disagrees", "field", "company", "rules", rules.Company, "llm", c)
	}
	if i := vocab.Canonical(li.Indicator); i != "" && i != rules.Indicator {
		slog.Info("Intent extraction disagrees", "field", "indicator", "rules", rules.Indicator, "llm", i)
	}
	if y := finance.ExtractYear(toString(li.Year)); y != 0 && y != rules.Year {
		slog.Info("Intent extraction disagrees", "field", "year", "rules", rules.Year, "llm", y)
	}
	return rules
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

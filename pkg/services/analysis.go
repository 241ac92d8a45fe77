package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/kadirpekel/finrag/pkg/finance"
	"github.com/kadirpekel/finrag/pkg/gateway"
	"github.com/kadirpekel/finrag/pkg/retrieval"
	"github.com/kadirpekel/finrag/pkg/utils"
)

// Trend directions.
const (
	TrendUp           = "上升"
	TrendDown         = "下降"
	TrendFlat         = "平稳"
	TrendInsufficient = "数据不足"
)

// Risk levels reuse the alert severities.
const (
	RiskLow    = SeverityLow
	RiskMedium = SeverityMedium
	RiskHigh   = SeverityHigh
)

// DefaultRiskIndicators are checked when analyze_risk names none.
var DefaultRiskIndicators = []string{"资产负债率", "流动比率", "不良率", "ROE"}

// trendTolerance is the relative yearly slope below which a series is flat.
const trendTolerance = 0.02

// AnalysisService explains and projects reported figures.
type AnalysisService struct {
	llm        LLM
	retriever  retrieval.Retriever
	indicators *Indicators
	alerts     *AlertService
}

func NewAnalysisService(llm LLM, retriever retrieval.Retriever, indicators *Indicators, alerts *AlertService) *AnalysisService {
	return &AnalysisService{llm: llm, retriever: retriever, indicators: indicators, alerts: alerts}
}

func (s *AnalysisService) generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	if s.llm == nil {
		return "", gateway.ErrProviderUnavailable
	}
	return s.llm.Generate(ctx, prompt, gateway.GenerateOptions{Temperature: temperature, MaxTokens: maxTokens})
}

// knowledge retrieves passages and renders the first n, each capped at runes.
func (s *AnalysisService) knowledge(ctx context.Context, query string, topK int, filters map[string]any, n, runes int) ([]retrieval.Document, string) {
	if s.retriever == nil {
		return nil, ""
	}
	docs := s.retriever.Retrieve(ctx, query, topK, filters, true)
	var sb strings.Builder
	for i, d := range docs {
		if i == n {
			break
		}
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", d.Source, utils.TruncateRunes(d.Content, runes))
	}
	return docs, strings.TrimSpace(sb.String())
}

// Change is the movement of a figure between two years.
type Change struct {
	Base     *IndicatorPoint `json:"base,omitempty"`
	Target   *IndicatorPoint `json:"target,omitempty"`
	Absolute *float64        `json:"absolute,omitempty"`
	Percent  *float64        `json:"percent,omitempty"`
}

// Attribution is the answer to analyze_attribution.
type Attribution struct {
	Company    string   `json:"company"`
	Indicator  string   `json:"indicator"`
	BaseYear   int      `json:"base_year"`
	TargetYear int      `json:"target_year"`
	Change     Change   `json:"change"`
	Analysis   string   `json:"analysis"`
	Factors    any      `json:"factors,omitempty"`
	Sources    []string `json:"sources,omitempty"`
}

// AnalyzeAttribution explains why an indicator moved between two years.
func (s *AnalysisService) AnalyzeAttribution(ctx context.Context, company, indicator string, baseYear, targetYear int) (*Attribution, error) {
	if company == "" || indicator == "" || baseYear == 0 || targetYear == 0 {
		return nil, fmt.Errorf("%w: company, indicator, base_year and target_year are required", ErrInvalidArgument)
	}
	vocab := s.indicators.vocab
	res := &Attribution{
		Company:    vocab.CanonicalCompany(company),
		Indicator:  vocab.Canonical(indicator),
		BaseYear:   baseYear,
		TargetYear: targetYear,
	}

	base, err := s.indicators.Lookup(ctx, res.Company, res.Indicator, baseYear, "")
	if err != nil {
		return nil, err
	}
	target, err := s.indicators.Lookup(ctx, res.Company, res.Indicator, targetYear, "")
	if err != nil {
		return nil, err
	}
	res.Change = changeBetween(base, target)

	docs, knowledge := s.knowledge(ctx, fmt.Sprintf("%s %d年 %s 变化原因", res.Company, targetYear, res.Indicator),
		10, map[string]any{"company": res.Company}, 5, 500)
	res.Sources = sourcesOf(docs, 3)

	changeType := "变化"
	if res.Change.Absolute != nil {
		changeType = "增长"
		if *res.Change.Absolute < 0 {
			changeType = "下降"
		}
	}
	prompt := fmt.Sprintf(`分析%s在%d年至%d年期间%s的%s原因。

数据：
%s

相关资料：
%s

请从以下维度分析：
1. 主要影响因素
2. 各因素的影响程度（百分比）
3. 关键驱动因素

返回JSON格式：{"factors": [{"name": "...", "impact": 30, "description": "..."}], "summary": "..."}`,
		res.Company, baseYear, targetYear, res.Indicator, changeType, describeChange(res.Change), orNone(knowledge))

	out, err := s.generate(ctx, prompt, 0.2, 1000)
	if err != nil {
		return nil, fmt.Errorf("attribution analysis failed: %w", err)
	}
	res.Analysis = out
	if parsed, ok := parseJSONObject(out); ok {
		res.Factors = parsed["factors"]
		if summary, ok := parsed["summary"].(string); ok && summary != "" {
			res.Analysis = summary
		}
	}
	return res, nil
}

func changeBetween(base, target *IndicatorPoint) Change {
	c := Change{Base: base, Target: target}
	if base == nil || target == nil {
		return c
	}
	abs := target.Value - base.Value
	c.Absolute = &abs
	if base.Value != 0 {
		pct := abs / math.Abs(base.Value) * 100
		c.Percent = &pct
	}
	return c
}

func describeChange(c Change) string {
	if c.Base == nil || c.Target == nil {
		return "缺少对比年份的指标数据"
	}
	s := fmt.Sprintf("%d年: %s\n%d年: %s", c.Base.Year, c.Base.Display(), c.Target.Year, c.Target.Display())
	if c.Percent != nil {
		s += fmt.Sprintf("\n变动: %+.2f%%", *c.Percent)
	}
	return s
}

// TrendResult is the local, model-free view of a series.
type TrendResult struct {
	Company    string           `json:"company"`
	Indicator  string           `json:"indicator"`
	TimeSeries []IndicatorPoint `json:"time_series"`
	Trend      string           `json:"trend"`
	Slope      float64          `json:"slope"`
}

// AnalyzeTrend fits a least squares line to the annual series. The relative
// slope against the series mean decides 上升, 下降 or 平稳.
func (s *AnalysisService) AnalyzeTrend(ctx context.Context, company, indicator string) (*TrendResult, error) {
	series, err := s.indicators.Series(ctx, company, indicator)
	if err != nil {
		return nil, err
	}
	slope, trend := fitTrend(series)
	return &TrendResult{
		Company:    s.indicators.vocab.CanonicalCompany(company),
		Indicator:  s.indicators.vocab.Canonical(indicator),
		TimeSeries: series,
		Trend:      trend,
		Slope:      slope,
	}, nil
}

func fitTrend(series []IndicatorPoint) (float64, string) {
	n := float64(len(series))
	if len(series) < 2 {
		return 0, TrendInsufficient
	}
	var sx, sy, sxy, sxx float64
	for _, p := range series {
		x := float64(p.Year)
		sx += x
		sy += p.Value
		sxy += x * p.Value
		sxx += x * x
	}
	denom := n*sxx - sx*sx
	if denom == 0 {
		return 0, TrendFlat
	}
	slope := (n*sxy - sx*sy) / denom
	avg := sy / n
	rel := slope
	if avg != 0 {
		rel = slope / math.Abs(avg)
	}
	switch {
	case rel > trendTolerance:
		return slope, TrendUp
	case rel < -trendTolerance:
		return slope, TrendDown
	default:
		return slope, TrendFlat
	}
}

// Prediction is the answer to predict_trend.
type Prediction struct {
	Company    string           `json:"company"`
	Indicator  string           `json:"indicator"`
	Years      int              `json:"prediction_years"`
	History    []IndicatorPoint `json:"historical_data"`
	Trend      string           `json:"trend"`
	Macro      []IndicatorPoint `json:"macro,omitempty"`
	Forecast   string           `json:"forecast"`
	Structured map[string]any   `json:"structured,omitempty"`
}

// PredictTrend projects an indicator 1 to 5 years ahead from its history and
// the latest macro figures.
func (s *AnalysisService) PredictTrend(ctx context.Context, company, indicator string, years int) (*Prediction, error) {
	if company == "" || indicator == "" {
		return nil, fmt.Errorf("%w: company and indicator are required", ErrInvalidArgument)
	}
	years = min(max(years, 1), 5)

	series, err := s.indicators.Series(ctx, company, indicator)
	if err != nil {
		return nil, err
	}
	_, trend := fitTrend(series)

	var macro []IndicatorPoint
	for _, m := range finance.MacroIndicators {
		ms, err := s.indicators.Series(ctx, MacroCompany, m)
		if err != nil {
			slog.Warn("Failed to load macro series", "indicator", m, "error", err)
			continue
		}
		if len(ms) > 0 {
			macro = append(macro, ms[len(ms)-1])
		}
	}

	res := &Prediction{
		Company:   s.indicators.vocab.CanonicalCompany(company),
		Indicator: s.indicators.vocab.Canonical(indicator),
		Years:     years,
		History:   lastN(series, 10),
		Trend:     trend,
		Macro:     macro,
	}

	prompt := fmt.Sprintf(`基于以下历史数据和宏观经济指标，预测%s未来%d年的%s：

历史数据：
%s

宏观经济指标：
%s

历史趋势判断：%s

请预测：
1. 未来%d年的%s值
2. 预测趋势（上升/下降/平稳）
3. 置信度（0-100）
4. 主要影响因素

返回JSON格式：{"predicted_values": [{"year": 2024, "value": 0, "confidence": 80}], "trend": "上升", "confidence": 80, "factors": ["..."]}`,
		res.Company, years, res.Indicator, formatPoints(res.History), orNone(formatPoints(macro)), trend, years, res.Indicator)

	out, err := s.generate(ctx, prompt, 0.2, 2000)
	if err != nil {
		return nil, fmt.Errorf("trend prediction failed: %w", err)
	}
	res.Forecast = out
	if parsed, ok := parseJSONObject(out); ok {
		res.Structured = parsed
	}
	return res, nil
}

// RiskSignal is one indicator judged above low risk.
type RiskSignal struct {
	Indicator string       `json:"indicator"`
	RiskLevel string       `json:"risk_level"`
	Value     float64      `json:"value"`
	Alert     *AlertResult `json:"alert,omitempty"`
}

// RiskReport is the answer to analyze_risk.
type RiskReport struct {
	Company     string       `json:"company"`
	Year        int          `json:"year"`
	Signals     []RiskSignal `json:"risk_signals"`
	Missing     []string     `json:"missing_indicators,omitempty"`
	OverallRisk string       `json:"overall_risk"`
}

// AnalyzeRisk grades each indicator by its alert severity. Two or more high
// signals make the overall risk high, one makes it medium.
func (s *AnalysisService) AnalyzeRisk(ctx context.Context, company string, year int, indicators []string) (*RiskReport, error) {
	if company == "" || year == 0 {
		return nil, fmt.Errorf("%w: company and year are required", ErrInvalidArgument)
	}
	if len(indicators) == 0 {
		indicators = DefaultRiskIndicators
	}

	res := &RiskReport{Company: s.indicators.vocab.CanonicalCompany(company), Year: year, Signals: []RiskSignal{}}
	for _, ind := range indicators {
		p, err := s.indicators.Lookup(ctx, res.Company, ind, year, "")
		if err != nil {
			return nil, err
		}
		if p == nil {
			res.Missing = append(res.Missing, s.indicators.vocab.Canonical(ind))
			continue
		}
		alert, err := s.alerts.CheckIndicator(ctx, res.Company, ind, year, p.Value)
		if err != nil {
			return nil, err
		}
		level := RiskLow
		if alert.Triggered {
			level = alert.Severity
		}
		if level != RiskLow {
			res.Signals = append(res.Signals, RiskSignal{Indicator: alert.Indicator, RiskLevel: level, Value: p.Value, Alert: alert})
		}
	}
	res.OverallRisk = overallRisk(res.Signals)
	return res, nil
}

func overallRisk(signals []RiskSignal) string {
	high := 0
	for _, s := range signals {
		if s.RiskLevel == RiskHigh {
			high++
		}
	}
	switch {
	case high >= 2:
		return RiskHigh
	case high == 1:
		return RiskMedium
	default:
		return RiskLow
	}
}

// IndustryComparison is the percentile standing of a company among peers.
type IndustryComparison struct {
	Company         string           `json:"company"`
	Indicator       string           `json:"indicator"`
	Year            int              `json:"year"`
	Value           float64          `json:"value"`
	IndustryAverage float64          `json:"industry_average"`
	PercentileRank  float64          `json:"percentile_rank"`
	Competitiveness string           `json:"competitiveness"`
	Peers           []IndicatorPoint `json:"peers"`
}

// CompareIndustry ranks the company's figure among every company reporting
// the indicator for year. Ties count half.
func (s *AnalysisService) CompareIndustry(ctx context.Context, company, indicator string, year int) (*IndustryComparison, error) {
	company = s.indicators.vocab.CanonicalCompany(company)
	peers, err := s.indicators.Peers(ctx, indicator, year)
	if err != nil {
		return nil, err
	}

	var own *IndicatorPoint
	var values []float64
	for i, p := range peers {
		values = append(values, p.Value)
		if p.Company == company {
			own = &peers[i]
		}
	}
	if own == nil || len(peers) < 2 {
		return nil, fmt.Errorf("%w: need %s and at least one peer for %s %d", ErrNoData, company, indicator, year)
	}

	var below, equal float64
	for _, p := range peers {
		if p.Company == company {
			continue
		}
		switch {
		case p.Value < own.Value:
			below++
		case p.Value == own.Value:
			equal++
		}
	}
	rank := (below + equal/2) / float64(len(peers)-1) * 100

	return &IndustryComparison{
		Company:         company,
		Indicator:       s.indicators.vocab.Canonical(indicator),
		Year:            year,
		Value:           own.Value,
		IndustryAverage: mean(values),
		PercentileRank:  rank,
		Competitiveness: competitiveness(rank),
		Peers:           peers,
	}, nil
}

func competitiveness(rank float64) string {
	switch {
	case rank >= 75:
		return "强"
	case rank >= 50:
		return "中等"
	default:
		return "弱"
	}
}

// Interpretation is the answer to deep_interpretation.
type Interpretation struct {
	Company        string         `json:"company"`
	Year           int            `json:"year"`
	Interpretation string         `json:"interpretation"`
	Structured     map[string]any `json:"structured,omitempty"`
	Sources        []string       `json:"sources"`
}

// DeepInterpretation reads the filing text and pulls out management
// discussion, risk notes, strategy changes and key figure movements.
func (s *AnalysisService) DeepInterpretation(ctx context.Context, company string, year int) (*Interpretation, error) {
	if company == "" || year == 0 {
		return nil, fmt.Errorf("%w: company and year are required", ErrInvalidArgument)
	}
	company = s.indicators.vocab.CanonicalCompany(company)

	docs, knowledge := s.knowledge(ctx, fmt.Sprintf("%s %d 年度报告 管理层讨论与分析 风险", company, year),
		20, map[string]any{"company": company}, 10, 1000)
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no report text indexed for %s %d", ErrNoData, company, year)
	}

	prompt := fmt.Sprintf(`分析以下财报内容，提取关键信息：

财报内容：
%s

请提取：
1. 管理层讨论与分析要点
2. 风险提示
3. 业务战略调整
4. 关键财务数据变化

返回JSON格式：{"management_discussion": [...], "risks": [...], "strategy": [...], "key_changes": [...]}`, knowledge)

	out, err := s.generate(ctx, prompt, 0.3, 3000)
	if err != nil {
		return nil, fmt.Errorf("deep interpretation failed: %w", err)
	}
	res := &Interpretation{Company: company, Year: year, Interpretation: out, Sources: sourcesOf(docs, 5)}
	if parsed, ok := parseJSONObject(out); ok {
		res.Structured = parsed
	}
	return res, nil
}

// parseJSONObject reads the object between the first "{" and the last "}".
func parseJSONObject(s string) (map[string]any, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s[start:end+1]), &out); err != nil {
		return nil, false
	}
	return out, true
}

func sourcesOf(docs []retrieval.Document, n int) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, d := range docs {
		if len(out) == n {
			break
		}
		if d.Source == "" || seen[d.Source] {
			continue
		}
		seen[d.Source] = true
		out = append(out, d.Source)
	}
	return out
}

func formatPoints(points []IndicatorPoint) string {
	lines := make([]string, 0, len(points))
	for _, p := range points {
		lines = append(lines, fmt.Sprintf("%s %d年 %s: %s", p.Company, p.Year, p.Indicator, p.Display()))
	}
	return strings.Join(lines, "\n")
}

func lastN(points []IndicatorPoint, n int) []IndicatorPoint {
	if len(points) > n {
		return points[len(points)-n:]
	}
	return points
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "（无）"
	}
	return s
}

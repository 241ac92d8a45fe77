package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/kadirpekel/finrag/pkg/gateway"
)

// Alert types.
const (
	AlertIndustryDeviation   = "industry_deviation"
	AlertHistoricalDeviation = "historical_deviation"
)

// Severity levels. SeverityNormal means no alert fired.
const (
	SeverityNormal = "normal"
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// minHistoryPoints is how many earlier years a historical check needs.
const minHistoryPoints = 3

// Alert is one triggered check.
type Alert struct {
	Type      string  `json:"type"`
	Message   string  `json:"message"`
	Reference float64 `json:"reference"`
	Deviation float64 `json:"deviation"`
	Threshold float64 `json:"threshold"`
}

// AlertResult is the answer to check_indicator_alert.
type AlertResult struct {
	Company   string  `json:"company"`
	Indicator string  `json:"indicator"`
	Year      int     `json:"year"`
	Value     float64 `json:"value"`
	Triggered bool    `json:"triggered"`
	Alerts    []Alert `json:"alerts"`
	Severity  string  `json:"severity"`
}

// AlertService flags figures that stray from the peer average or from the
// company's own history.
type AlertService struct {
	indicators          *Indicators
	llm                 LLM
	industryThreshold   float64
	historicalThreshold float64
}

func NewAlertService(indicators *Indicators, llm LLM, industryThreshold, historicalThreshold float64) *AlertService {
	if industryThreshold <= 0 {
		industryThreshold = 0.15
	}
	if historicalThreshold <= 0 {
		historicalThreshold = 0.20
	}
	return &AlertService{
		indicators:          indicators,
		llm:                 llm,
		industryThreshold:   industryThreshold,
		historicalThreshold: historicalThreshold,
	}
}

// CheckIndicator compares value with the average of other companies' figures
// for the same year and with the average of the company's earlier years.
// A check without enough data is skipped.
func (s *AlertService) CheckIndicator(ctx context.Context, company, indicator string, year int, value float64) (*AlertResult, error) {
	if company == "" || indicator == "" || year == 0 {
		return nil, fmt.Errorf("%w: company, indicator and year are required", ErrInvalidArgument)
	}
	company = s.indicators.vocab.CanonicalCompany(company)
	indicator = s.indicators.vocab.Canonical(indicator)

	res := &AlertResult{
		Company:   company,
		Indicator: indicator,
		Year:      year,
		Value:     value,
		Alerts:    []Alert{},
	}

	peers, err := s.indicators.Peers(ctx, indicator, year)
	if err != nil {
		return nil, fmt.Errorf("failed to load peers: %w", err)
	}
	var peerValues []float64
	for _, p := range peers {
		if p.Company != company {
			peerValues = append(peerValues, p.Value)
		}
	}
	if a, ok := deviationAlert(AlertIndustryDeviation, "行业均值", indicator, value, peerValues, 1, s.industryThreshold); ok {
		res.Alerts = append(res.Alerts, a)
	}

	series, err := s.indicators.Series(ctx, company, indicator)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	var history []float64
	for _, p := range series {
		if p.Year < year {
			history = append(history, p.Value)
		}
	}
	if a, ok := deviationAlert(AlertHistoricalDeviation, "历史均值", indicator, value, history, minHistoryPoints, s.historicalThreshold); ok {
		res.Alerts = append(res.Alerts, a)
	}

	res.Triggered = len(res.Alerts) > 0
	res.Severity = severity(res.Alerts)
	return res, nil
}

func deviationAlert(kind, label, indicator string, value float64, reference []float64, minPoints int, threshold float64) (Alert, bool) {
	if len(reference) < minPoints || len(reference) == 0 {
		return Alert{}, false
	}
	avg := mean(reference)
	if avg == 0 {
		return Alert{}, false
	}
	dev := math.Abs(value-avg) / math.Abs(avg)
	if dev < threshold {
		return Alert{}, false
	}
	direction := "低于"
	if value > avg {
		direction = "高于"
	}
	return Alert{
		Type:      kind,
		Message:   fmt.Sprintf("%s偏离%s%.1f%%，%s%s%.2f", indicator, label, dev*100, direction, label, math.Abs(value-avg)),
		Reference: avg,
		Deviation: dev,
		Threshold: threshold,
	}, true
}

// severity grades the largest deviation.
func severity(alerts []Alert) string {
	if len(alerts) == 0 {
		return SeverityNormal
	}
	var worst float64
	for _, a := range alerts {
		worst = max(worst, a.Deviation)
	}
	switch {
	case worst >= 0.30:
		return SeverityHigh
	case worst >= 0.20:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AnalyzeAlertReason asks the model for likely causes of a triggered alert.
func (s *AlertService) AnalyzeAlertReason(ctx context.Context, res *AlertResult) (string, error) {
	if res == nil || !res.Triggered {
		return "", fmt.Errorf("%w: no triggered alert to analyze", ErrInvalidArgument)
	}
	if s.llm == nil {
		return "", gateway.ErrProviderUnavailable
	}

	msgs := make([]string, 0, len(res.Alerts))
	for _, a := range res.Alerts {
		msgs = append(msgs, a.Message)
	}
	prompt := fmt.Sprintf(`分析以下银行指标异常的原因：

银行：%s
指标：%s
年份：%d

异常情况：
%s

可能原因如区域经济下行、业务结构调整、监管政策影响、市场竞争加剧、内部管理问题。
要求列出3-5个可能原因，按重要性排序，并提供简要分析。`, res.Company, res.Indicator, res.Year, strings.Join(msgs, "\n"))

	out, err := s.llm.Generate(ctx, prompt, gateway.GenerateOptions{Temperature: 0.3, MaxTokens: 1000})
	if err != nil {
		return "", fmt.Errorf("failed to analyze alert reason: %w", err)
	}
	return out, nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

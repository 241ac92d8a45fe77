package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/kadirpekel/finrag/pkg/finance"
	"github.com/kadirpekel/finrag/pkg/graph"
)

// MacroCompany is the company name macro series are recorded under.
const MacroCompany = "宏观经济"

// IndicatorPoint is one reported figure.
type IndicatorPoint struct {
	Company   string  `json:"company"`
	Indicator string  `json:"indicator"`
	Year      int     `json:"year"`
	Quarter   string  `json:"quarter,omitempty"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit,omitempty"`
	Source    string  `json:"source,omitempty"`
}

// Display renders the value with its unit.
func (p IndicatorPoint) Display() string {
	return finance.Number{Value: p.Value, Unit: p.Unit}.String()
}

// Indicators reads and writes figures as Indicator entities:
//
//	id:         indicator:<company>:<indicator>:<year>[:<quarter>]
//	properties: company, indicator, year, quarter, value, unit, source
//
// Each point is linked from its Company entity by a HAS_INDICATOR edge.
type Indicators struct {
	graph graph.Store
	vocab *finance.Vocabulary
}

func NewIndicators(g graph.Store, vocab *finance.Vocabulary) *Indicators {
	if vocab == nil {
		vocab = finance.Default()
	}
	return &Indicators{graph: g, vocab: vocab}
}

func indicatorID(p IndicatorPoint) string {
	id := fmt.Sprintf("indicator:%s:%s:%d", p.Company, p.Indicator, p.Year)
	if p.Quarter != "" {
		id += ":" + p.Quarter
	}
	return id
}

// Record stores p, replacing an earlier figure for the same period.
func (s *Indicators) Record(ctx context.Context, p IndicatorPoint) error {
	p.Company = s.vocab.CanonicalCompany(p.Company)
	p.Indicator = s.vocab.Canonical(p.Indicator)
	p.Quarter = normalizeQuarter(p.Quarter)
	if p.Company == "" || p.Indicator == "" || p.Year == 0 {
		return fmt.Errorf("%w: company, indicator and year are required", ErrInvalidArgument)
	}

	companyID := "company:" + p.Company
	if err := s.graph.AddEntity(ctx, graph.TypeCompany, companyID, map[string]any{"name": p.Company}); err != nil {
		return err
	}

	id := indicatorID(p)
	props := map[string]any{
		"name":        fmt.Sprintf("%s%d年%s", p.Company, p.Year, p.Indicator),
		"description": fmt.Sprintf("%s%d年%s%s为%s", p.Company, p.Year, p.Quarter, p.Indicator, p.Display()),
		"company":     p.Company,
		"indicator":   p.Indicator,
		"year":        p.Year,
		"value":       p.Value,
		"unit":        p.Unit,
	}
	if p.Quarter != "" {
		props["quarter"] = p.Quarter
	}
	if p.Source != "" {
		props["source"] = p.Source
	}
	if err := s.graph.AddEntity(ctx, graph.TypeIndicator, id, props); err != nil {
		return err
	}
	return s.graph.AddRelation(ctx, companyID, id, "HAS_INDICATOR", nil)
}

// Series returns the annual figures of one indicator, oldest first.
func (s *Indicators) Series(ctx context.Context, company, indicator string) ([]IndicatorPoint, error) {
	points, err := s.points(ctx, map[string]any{
		"company":   s.vocab.CanonicalCompany(company),
		"indicator": s.vocab.Canonical(indicator),
	})
	if err != nil {
		return nil, err
	}
	annual := points[:0]
	for _, p := range points {
		if p.Quarter == "" {
			annual = append(annual, p)
		}
	}
	sort.Slice(annual, func(i, j int) bool { return annual[i].Year < annual[j].Year })
	return annual, nil
}

// Lookup returns the figure for one period, or nil when none is recorded.
// An empty quarter means the annual figure.
func (s *Indicators) Lookup(ctx context.Context, company, indicator string, year int, quarter string) (*IndicatorPoint, error) {
	points, err := s.points(ctx, map[string]any{
		"company":   s.vocab.CanonicalCompany(company),
		"indicator": s.vocab.Canonical(indicator),
		"year":      year,
	})
	if err != nil {
		return nil, err
	}
	quarter = normalizeQuarter(quarter)
	for _, p := range points {
		if p.Quarter == quarter {
			return &p, nil
		}
	}
	return nil, nil
}

// Peers returns every company's annual figure for indicator in year.
func (s *Indicators) Peers(ctx context.Context, indicator string, year int) ([]IndicatorPoint, error) {
	points, err := s.points(ctx, map[string]any{
		"indicator": s.vocab.Canonical(indicator),
		"year":      year,
	})
	if err != nil {
		return nil, err
	}
	out := points[:0]
	for _, p := range points {
		if p.Quarter == "" && p.Company != MacroCompany {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Indicators) points(ctx context.Context, filters map[string]any) ([]IndicatorPoint, error) {
	if s.graph == nil {
		return nil, fmt.Errorf("%w: no knowledge graph configured", ErrNoData)
	}
	entities, err := s.graph.Entities(ctx, graph.TypeIndicator, filters)
	if err != nil {
		return nil, err
	}
	out := make([]IndicatorPoint, 0, len(entities))
	for _, e := range entities {
		if p, ok := pointFromEntity(e); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// normalizeQuarter turns "1", "q1" and "Q1" into "Q1".
func normalizeQuarter(q string) string {
	q = strings.ToUpper(strings.TrimSpace(q))
	if q == "" || strings.HasPrefix(q, "Q") {
		return q
	}
	return "Q" + q
}

func pointFromEntity(e graph.Entity) (IndicatorPoint, bool) {
	num, err := finance.ParseValue(e.Properties["value"])
	if err != nil {
		return IndicatorPoint{}, false
	}
	p := IndicatorPoint{
		Company:   str(e.Properties["company"]),
		Indicator: str(e.Properties["indicator"]),
		Year:      toInt(e.Properties["year"]),
		Quarter:   str(e.Properties["quarter"]),
		Value:     num.Value,
		Unit:      str(e.Properties["unit"]),
		Source:    str(e.Properties["source"]),
	}
	if p.Unit == "" {
		p.Unit = num.Unit
	}
	return p, p.Year != 0
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	n, err := finance.ParseValue(v)
	if err != nil {
		return 0, false
	}
	return n.Value, true
}

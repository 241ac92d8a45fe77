package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/finrag/pkg/graph"
	"github.com/kadirpekel/finrag/pkg/utils"
)

// maxCompareYears bounds a comparison table.
const maxCompareYears = 20

// ReportService answers direct questions about reported figures.
type ReportService struct {
	indicators  *Indicators
	graph       graph.Store
	concurrency int
}

func NewReportService(indicators *Indicators, g graph.Store, concurrency int) *ReportService {
	if concurrency < 1 {
		concurrency = 4
	}
	return &ReportService{indicators: indicators, graph: g, concurrency: concurrency}
}

// Evidence is a graph passage backing a figure.
type Evidence struct {
	ID      string `json:"id"`
	Source  string `json:"source,omitempty"`
	Content string `json:"content"`
}

// IndicatorResult is the answer to query_report_indicator.
type IndicatorResult struct {
	Company   string     `json:"company"`
	Indicator string     `json:"indicator"`
	Year      int        `json:"year"`
	Quarter   string     `json:"quarter,omitempty"`
	Found     bool       `json:"found"`
	Value     *float64   `json:"value,omitempty"`
	Unit      string     `json:"unit,omitempty"`
	Display   string     `json:"display,omitempty"`
	Source    string     `json:"source,omitempty"`
	Message   string     `json:"message,omitempty"`
	Evidence  []Evidence `json:"evidence,omitempty"`
}

// GetIndicator looks up one figure. A missing figure is not an error: the
// result says so and carries whatever graph passages mention the company.
func (s *ReportService) GetIndicator(ctx context.Context, company, indicator string, year int, quarter string) (*IndicatorResult, error) {
	if company == "" || indicator == "" || year == 0 {
		return nil, fmt.Errorf("%w: company, indicator and year are required", ErrInvalidArgument)
	}

	res := &IndicatorResult{
		Company:   s.indicators.vocab.CanonicalCompany(company),
		Indicator: s.indicators.vocab.Canonical(indicator),
		Year:      year,
		Quarter:   normalizeQuarter(quarter),
	}

	p, err := s.indicators.Lookup(ctx, res.Company, res.Indicator, year, quarter)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s %s: %w", res.Company, res.Indicator, err)
	}
	if p != nil {
		res.Found = true
		res.Value = &p.Value
		res.Unit = p.Unit
		res.Display = p.Display()
		res.Source = p.Source
	} else {
		res.Message = fmt.Sprintf("未找到%s%d年%s%s数据", res.Company, year, res.Quarter, res.Indicator)
	}

	res.Evidence = s.evidence(ctx, res.Company, res.Indicator, year)
	return res, nil
}

// evidence collects document passages about the company, preferring ones
// that name the indicator. Failures only cost the evidence.
func (s *ReportService) evidence(ctx context.Context, company, indicator string, year int) []Evidence {
	if s.graph == nil {
		return nil
	}
	entities, err := s.graph.Search(ctx, company, 20, map[string]any{"type": graph.TypeDocument})
	if err != nil {
		slog.Warn("Evidence search failed", "company", company, "error", err)
		return nil
	}

	yearStr := fmt.Sprint(year)
	sort.SliceStable(entities, func(i, j int) bool {
		return relevance(entities[i], indicator, yearStr) > relevance(entities[j], indicator, yearStr)
	})

	out := make([]Evidence, 0, 3)
	for _, e := range entities {
		if len(out) == 3 {
			break
		}
		out = append(out, Evidence{
			ID:      e.ID,
			Source:  str(e.Properties["source"]),
			Content: utils.TruncateRunes(e.Content(), 300),
		})
	}
	return out
}

func relevance(e graph.Entity, indicator, year string) int {
	text := e.Content()
	score := 0
	if strings.Contains(text, indicator) {
		score += 2
	}
	if strings.Contains(text, year) || str(e.Properties["year"]) == year {
		score++
	}
	return score
}

// ComparisonRow is one company's values by year. Missing years are nil.
type ComparisonRow struct {
	Company string           `json:"company"`
	Values  map[int]*float64 `json:"values"`
	Unit    string           `json:"unit,omitempty"`
}

// ComparisonTable is the answer to compare_indicators.
type ComparisonTable struct {
	Indicator string          `json:"indicator"`
	Years     []int           `json:"years"`
	Rows      []ComparisonRow `json:"rows"`
}

// CompareIndicators builds a company by year table of one indicator.
func (s *ReportService) CompareIndicators(ctx context.Context, companies []string, indicator string, startYear, endYear int) (*ComparisonTable, error) {
	if len(companies) == 0 || indicator == "" {
		return nil, fmt.Errorf("%w: companies and indicator are required", ErrInvalidArgument)
	}
	if startYear == 0 || endYear == 0 || startYear > endYear {
		return nil, fmt.Errorf("%w: invalid year range %d-%d", ErrInvalidArgument, startYear, endYear)
	}
	if endYear-startYear+1 > maxCompareYears {
		return nil, fmt.Errorf("%w: year range exceeds %d years", ErrInvalidArgument, maxCompareYears)
	}

	table := &ComparisonTable{Indicator: s.indicators.vocab.Canonical(indicator)}
	for y := startYear; y <= endYear; y++ {
		table.Years = append(table.Years, y)
	}
	table.Rows = make([]ComparisonRow, len(companies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, company := range companies {
		g.Go(func() error {
			series, err := s.indicators.Series(gctx, company, indicator)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", company, err)
			}
			row := ComparisonRow{Company: s.indicators.vocab.CanonicalCompany(company), Values: map[int]*float64{}}
			for _, y := range table.Years {
				row.Values[y] = nil
			}
			for _, p := range series {
				if p.Year >= startYear && p.Year <= endYear {
					v := p.Value
					row.Values[p.Year] = &v
					row.Unit = p.Unit
				}
			}
			table.Rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return table, nil
}

// ReportSummary describes one ingested filing.
type ReportSummary struct {
	Source  string `json:"source"`
	Company string `json:"company,omitempty"`
	Year    int    `json:"year,omitempty"`
	Chunks  int    `json:"chunks"`
}

// ListReports lists ingested documents, optionally for one company.
func (s *ReportService) ListReports(ctx context.Context, company string) ([]ReportSummary, error) {
	if s.graph == nil {
		return nil, nil
	}
	var filters map[string]any
	if company != "" {
		filters = map[string]any{"company": s.indicators.vocab.CanonicalCompany(company)}
	}
	docs, err := s.graph.Entities(ctx, graph.TypeDocument, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}

	bySource := map[string]*ReportSummary{}
	var order []string
	for _, d := range docs {
		src := str(d.Properties["source"])
		if src == "" {
			continue
		}
		r, ok := bySource[src]
		if !ok {
			r = &ReportSummary{Source: src, Company: str(d.Properties["company"]), Year: toInt(d.Properties["year"])}
			bySource[src] = r
			order = append(order, src)
		}
		r.Chunks++
	}

	sort.Strings(order)
	out := make([]ReportSummary, 0, len(order))
	for _, src := range order {
		out = append(out, *bySource[src])
	}
	return out, nil
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/finrag/pkg/finance"
	"github.com/kadirpekel/finrag/pkg/gateway"
	"github.com/kadirpekel/finrag/pkg/utils"
)

// Export formats.
const (
	FormatMarkdown = "markdown"
	FormatXLSX     = "xlsx"
)

// Template is a report outline the model fills in.
type Template struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Body string `json:"-"`
}

// DefaultTemplateID is used for unknown template ids.
const DefaultTemplateID = "quarterly_performance"

var builtinTemplates = []Template{
	{
		ID:   "credit_approval",
		Name: "信贷审批摘要",
		Body: `# {company} {year}年财报摘要

## 核心指标
{indicators}

## 风险评估
{risk_assessment}

## 建议
{recommendation}`,
	},
	{
		ID:   DefaultTemplateID,
		Name: "季度业绩分析",
		Body: `# {company} {period}业绩分析报告

## 业绩概况
{overview}

## 关键指标分析
{indicator_analysis}

## 趋势分析
{trend_analysis}

## 结论
{conclusion}`,
	},
}

// Chart is a chart definition a client can render.
type Chart struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Data  any    `json:"data"`
}

// ReportRequest is the input to generate_report.
type ReportRequest struct {
	Company       string
	TemplateID    string
	Year          int
	IncludeCharts bool
	Format        string
}

// GeneratedReport is the answer to generate_report.
type GeneratedReport struct {
	ReportID string  `json:"report_id"`
	Template string  `json:"template"`
	Company  string  `json:"company"`
	Year     int     `json:"year"`
	Content  string  `json:"content"`
	Charts   []Chart `json:"charts,omitempty"`
	FilePath string  `json:"file_path"`
	Format   string  `json:"format"`
}

// ReportGenerator writes analysis reports from templates and recorded figures.
type ReportGenerator struct {
	llm        LLM
	indicators *Indicators
	outputDir  string
	now        func() time.Time
}

// NewReportGenerator writes to outputDir, or to the reports directory under
// the local data dir when outputDir is empty.
func NewReportGenerator(llm LLM, indicators *Indicators, outputDir string) *ReportGenerator {
	return &ReportGenerator{llm: llm, indicators: indicators, outputDir: outputDir, now: time.Now}
}

// Templates lists the built-in templates.
func (g *ReportGenerator) Templates() []Template {
	return append([]Template(nil), builtinTemplates...)
}

// template resolves an id or a display name, falling back to the default.
func (g *ReportGenerator) template(id string) Template {
	var fallback Template
	for _, t := range builtinTemplates {
		if t.ID == id || t.Name == id {
			return t
		}
		if t.ID == DefaultTemplateID {
			fallback = t
		}
	}
	return fallback
}

// reportData is what the model sees besides the template.
type reportData struct {
	Company    string                      `json:"company"`
	Year       int                         `json:"year"`
	Indicators map[string]string           `json:"indicators"`
	TimeSeries map[string][]IndicatorPoint `json:"time_series,omitempty"`
	Comparison map[string][]IndicatorPoint `json:"comparison,omitempty"`
}

// Generate gathers the company's figures up to year, has the model fill the
// template and exports the result under the output directory.
func (g *ReportGenerator) Generate(ctx context.Context, req ReportRequest) (*GeneratedReport, error) {
	if req.Company == "" || req.Year == 0 {
		return nil, fmt.Errorf("%w: company and year are required", ErrInvalidArgument)
	}
	format, err := normalizeFormat(req.Format)
	if err != nil {
		return nil, err
	}
	if g.llm == nil {
		return nil, gateway.ErrProviderUnavailable
	}

	tpl := g.template(req.TemplateID)
	company := g.indicators.vocab.CanonicalCompany(req.Company)
	data, err := g.collect(ctx, company, req.Year)
	if err != nil {
		return nil, err
	}

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report data: %w", err)
	}
	prompt := fmt.Sprintf(`基于以下数据和模板，生成专业的财务分析报告。

模板：
%s

数据：
%s

要求：
1. 严格按照模板格式
2. 内容专业、准确
3. 数据引用要精确，缺失的数据注明“暂无数据”
4. 结论要明确`, tpl.Body, payload)

	content, err := g.llm.Generate(ctx, prompt, gateway.GenerateOptions{Temperature: 0.3, MaxTokens: 3000})
	if err != nil {
		return nil, fmt.Errorf("report generation failed: %w", err)
	}

	report := &GeneratedReport{
		ReportID: uuid.NewString(),
		Template: tpl.Name,
		Company:  company,
		Year:     req.Year,
		Content:  content,
		Format:   format,
	}
	if req.IncludeCharts {
		report.Charts = charts(data)
	}

	path, err := g.export(report, data)
	if err != nil {
		return nil, err
	}
	report.FilePath = path
	return report, nil
}

func (g *ReportGenerator) collect(ctx context.Context, company string, year int) (*reportData, error) {
	data := &reportData{
		Company:    company,
		Year:       year,
		Indicators: map[string]string{},
		TimeSeries: map[string][]IndicatorPoint{},
		Comparison: map[string][]IndicatorPoint{},
	}
	for _, ind := range finance.CoreIndicators {
		series, err := g.indicators.Series(ctx, company, ind)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", ind, err)
		}
		var upto []IndicatorPoint
		for _, p := range series {
			if p.Year <= year {
				upto = append(upto, p)
			}
		}
		if len(upto) == 0 {
			continue
		}
		last := upto[len(upto)-1]
		if last.Year == year {
			data.Indicators[ind] = last.Display()
		}
		data.TimeSeries[ind] = lastN(upto, 5)

		peers, err := g.indicators.Peers(ctx, ind, year)
		if err != nil {
			return nil, fmt.Errorf("failed to load peers for %s: %w", ind, err)
		}
		if len(peers) > 1 {
			data.Comparison[ind] = peers
		}
	}
	return data, nil
}

func charts(data *reportData) []Chart {
	var out []Chart
	if len(data.TimeSeries) > 0 {
		out = append(out, Chart{Type: "line", Title: "趋势图", Data: data.TimeSeries})
	}
	if len(data.Comparison) > 0 {
		out = append(out, Chart{Type: "bar", Title: "对比图", Data: data.Comparison})
	}
	return out
}

func normalizeFormat(f string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case "", "md", "markdown":
		return FormatMarkdown, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q (markdown, xlsx)", ErrInvalidArgument, f)
	}
}

func (g *ReportGenerator) reportDir() (string, error) {
	if g.outputDir == "" {
		return utils.EnsureDataDir("", "reports")
	}
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	return g.outputDir, nil
}

func (g *ReportGenerator) export(report *GeneratedReport, data *reportData) (string, error) {
	dir, err := g.reportDir()
	if err != nil {
		return "", err
	}
	stamp := g.now().Format("20060102150405")
	base := filepath.Join(dir, fmt.Sprintf("report_%s_%d_%s", report.Company, report.Year, stamp))

	switch report.Format {
	case FormatXLSX:
		path := base + ".xlsx"
		if err := writeWorkbook(path, report, data); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		return path, nil
	default:
		path := base + ".md"
		if err := os.WriteFile(path, []byte(report.Content), 0o644); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", path, err)
		}
		return path, nil
	}
}

// writeWorkbook puts the report text on one sheet and the time series on a
// second, with a line chart when charts were requested.
func writeWorkbook(path string, report *GeneratedReport, data *reportData) error {
	f := excelize.NewFile()
	defer f.Close()

	const textSheet, dataSheet = "报告", "数据"
	if err := f.SetSheetName("Sheet1", textSheet); err != nil {
		return err
	}
	for i, line := range strings.Split(report.Content, "\n") {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetCellValue(textSheet, cell, line); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(textSheet, "A", "A", 100); err != nil {
		return err
	}

	if len(data.TimeSeries) > 0 {
		if _, err := f.NewSheet(dataSheet); err != nil {
			return err
		}
		years, rows := seriesTable(data.TimeSeries)
		header := []any{"指标"}
		for _, y := range years {
			header = append(header, y)
		}
		if err := f.SetSheetRow(dataSheet, "A1", &header); err != nil {
			return err
		}
		for i, row := range rows {
			cell, _ := excelize.CoordinatesToCellName(1, i+2)
			if err := f.SetSheetRow(dataSheet, cell, &row); err != nil {
				return err
			}
		}

		if len(report.Charts) > 0 && len(years) > 1 {
			lastCol, _ := excelize.ColumnNumberToName(len(years) + 1)
			series := make([]excelize.ChartSeries, 0, len(rows))
			for i := range rows {
				r := i + 2
				series = append(series, excelize.ChartSeries{
					Name:       fmt.Sprintf("%s!$A$%d", dataSheet, r),
					Categories: fmt.Sprintf("%s!$B$1:$%s$1", dataSheet, lastCol),
					Values:     fmt.Sprintf("%s!$B$%d:$%s$%d", dataSheet, r, lastCol, r),
				})
			}
			chartCell, _ := excelize.CoordinatesToCellName(1, len(rows)+3)
			if err := f.AddChart(dataSheet, chartCell, &excelize.Chart{
				Type:   excelize.Line,
				Series: series,
				Title:  []excelize.RichTextRun{{Text: "趋势图"}},
			}); err != nil {
				return err
			}
		}
	}

	return f.SaveAs(path)
}

// seriesTable pivots series into indicator rows over the union of years.
func seriesTable(ts map[string][]IndicatorPoint) ([]int, [][]any) {
	yearSet := map[int]bool{}
	for _, points := range ts {
		for _, p := range points {
			yearSet[p.Year] = true
		}
	}
	years := make([]int, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	slices.Sort(years)

	var rows [][]any
	for _, ind := range finance.CoreIndicators {
		points, ok := ts[ind]
		if !ok {
			continue
		}
		byYear := map[int]float64{}
		for _, p := range points {
			byYear[p.Year] = p.Value
		}
		row := []any{ind}
		for _, y := range years {
			if v, ok := byYear[y]; ok {
				row = append(row, v)
			} else {
				row = append(row, nil)
			}
		}
		rows = append(rows, row)
	}
	return years, rows
}

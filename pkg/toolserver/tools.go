package toolserver

import (
	"context"
	"errors"

	"github.com/kadirpekel/finrag/pkg/services"
)

// Tool names.
const (
	ToolQueryReportIndicator = "query_report_indicator"
	ToolCompareIndicators    = "compare_indicators"
	ToolAnalyzeAttribution   = "analyze_attribution"
	ToolPredictTrend         = "predict_trend"
	ToolAnalyzeRisk          = "analyze_risk"
	ToolGenerateReport       = "generate_report"
	ToolExecuteAgent         = "execute_agent"
	ToolIntegrateData        = "integrate_data"
	ToolDeepInterpretation   = "deep_interpretation"
	ToolCheckIndicatorAlert  = "check_indicator_alert"
)

type queryIndicatorArgs struct {
	Company   string `json:"company" jsonschema:"required,description=公司名称，如 贵州茅台、招商银行"`
	Indicator string `json:"indicator" jsonschema:"required,description=指标名称，如 营收、净利润、不良率、ROE"`
	Year      int    `json:"year" jsonschema:"required,description=年份"`
	Quarter   string `json:"quarter,omitempty" jsonschema:"description=季度 Q1-Q4，留空为年度数据"`
}

type compareArgs struct {
	Companies []string `json:"companies" jsonschema:"required,description=要对比的公司列表"`
	Indicator string   `json:"indicator" jsonschema:"required"`
	StartYear int      `json:"start_year" jsonschema:"required"`
	EndYear   int      `json:"end_year" jsonschema:"required"`
}

type attributionArgs struct {
	Company    string `json:"company" jsonschema:"required"`
	Indicator  string `json:"indicator" jsonschema:"required"`
	BaseYear   int    `json:"base_year" jsonschema:"required,description=基期年份"`
	TargetYear int    `json:"target_year" jsonschema:"required,description=目标年份"`
}

type predictArgs struct {
	Company   string `json:"company" jsonschema:"required"`
	Indicator string `json:"indicator" jsonschema:"required"`
	Years     int    `json:"years" jsonschema:"required,description=预测年数,minimum=1,maximum=5"`
}

type riskArgs struct {
	Company    string   `json:"company" jsonschema:"required"`
	Year       int      `json:"year" jsonschema:"required"`
	Indicators []string `json:"indicators,omitempty" jsonschema:"description=要检查的指标，默认 资产负债率、流动比率、不良率、ROE"`
}

type reportArgs struct {
	Company       string `json:"company" jsonschema:"required"`
	TemplateID    string `json:"template_id" jsonschema:"required,enum=credit_approval,enum=quarterly_performance"`
	Year          int    `json:"year" jsonschema:"required"`
	IncludeCharts bool   `json:"include_charts,omitempty"`
	Format        string `json:"format,omitempty" jsonschema:"enum=markdown,enum=xlsx"`
}

type agentArgs struct {
	AgentID string         `json:"agent_id" jsonschema:"required,enum=boston_matrix,enum=swot,enum=credit_qa,enum=retail_transformation,enum=document_writing"`
	Query   string         `json:"query" jsonschema:"required"`
	Context map[string]any `json:"context,omitempty" jsonschema:"description=智能体专属输入，如 products、entity_info、doc_type"`
}

type integrateArgs struct {
	DataType  string   `json:"data_type" jsonschema:"required,enum=documents,enum=bank_reports,enum=macro_data,enum=policy_files"`
	Paths     []string `json:"paths,omitempty"`
	BankNames []string `json:"bank_names,omitempty"`
	Years     []int    `json:"years,omitempty"`
}

type interpretationArgs struct {
	Company string `json:"company" jsonschema:"required"`
	Year    int    `json:"year" jsonschema:"required"`
}

type alertArgs struct {
	Company   string  `json:"company" jsonschema:"required"`
	Indicator string  `json:"indicator" jsonschema:"required"`
	Year      int     `json:"year" jsonschema:"required"`
	Value     float64 `json:"value" jsonschema:"required"`
}

// alertWithReason adds the model's explanation to a triggered alert.
type alertWithReason struct {
	*services.AlertResult
	Reason string `json:"reason,omitempty"`
}

func (r *Registry) registerCatalog() error {
	s := r.svc
	return errors.Join(
		register(r, ToolQueryReportIndicator, "查询公司某年度（或季度）财务指标的数值及出处",
			func(ctx context.Context, a queryIndicatorArgs) (any, error) {
				return s.Reports.GetIndicator(ctx, a.Company, a.Indicator, a.Year, a.Quarter)
			}),
		register(r, ToolCompareIndicators, "对比多家公司在一段年份内的同一指标",
			func(ctx context.Context, a compareArgs) (any, error) {
				return s.Reports.CompareIndicators(ctx, a.Companies, a.Indicator, a.StartYear, a.EndYear)
			}),
		register(r, ToolAnalyzeAttribution, "分析指标在两个年份间变化的原因",
			func(ctx context.Context, a attributionArgs) (any, error) {
				return s.Analysis.AnalyzeAttribution(ctx, a.Company, a.Indicator, a.BaseYear, a.TargetYear)
			}),
		register(r, ToolPredictTrend, "结合历史数据与宏观指标预测未来走势",
			func(ctx context.Context, a predictArgs) (any, error) {
				return s.Analysis.PredictTrend(ctx, a.Company, a.Indicator, a.Years)
			}),
		register(r, ToolAnalyzeRisk, "评估公司在指定年份的风险水平",
			func(ctx context.Context, a riskArgs) (any, error) {
				return s.Analysis.AnalyzeRisk(ctx, a.Company, a.Year, a.Indicators)
			}),
		register(r, ToolGenerateReport, "按模板生成财务分析报告并导出",
			func(ctx context.Context, a reportArgs) (any, error) {
				return s.Generator.Generate(ctx, services.ReportRequest{
					Company:       a.Company,
					TemplateID:    a.TemplateID,
					Year:          a.Year,
					IncludeCharts: a.IncludeCharts,
					Format:        a.Format,
				})
			}),
		register(r, ToolExecuteAgent, "调用预置业务智能体",
			func(ctx context.Context, a agentArgs) (any, error) {
				return s.Agents.Execute(ctx, a.AgentID, a.Query, a.Context)
			}),
		register(r, ToolIntegrateData, "解析并导入文档、银行年报、宏观数据或政策文件",
			func(ctx context.Context, a integrateArgs) (any, error) {
				return s.Integration.Integrate(ctx, services.IntegrationRequest{
					DataType:  a.DataType,
					Paths:     a.Paths,
					BankNames: a.BankNames,
					Years:     a.Years,
				})
			}),
		register(r, ToolDeepInterpretation, "深度解读年报：管理层讨论、风险提示、战略调整",
			func(ctx context.Context, a interpretationArgs) (any, error) {
				return s.Analysis.DeepInterpretation(ctx, a.Company, a.Year)
			}),
		register(r, ToolCheckIndicatorAlert, "检查指标是否偏离行业均值或历史均值",
			func(ctx context.Context, a alertArgs) (any, error) {
				res, err := s.Alerts.CheckIndicator(ctx, a.Company, a.Indicator, a.Year, a.Value)
				if err != nil || !res.Triggered {
					return res, err
				}
				out := alertWithReason{AlertResult: res}
				if reason, err := s.Alerts.AnalyzeAlertReason(ctx, res); err == nil {
					out.Reason = reason
				}
				return out, nil
			}),
	)
}

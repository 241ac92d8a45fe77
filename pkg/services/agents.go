package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kadirpekel/finrag/pkg/gateway"
	"github.com/kadirpekel/finrag/pkg/retrieval"
	"github.com/kadirpekel/finrag/pkg/utils"
)

// ErrAgentNotFound is returned by Execute for an unknown agent id.
var ErrAgentNotFound = errors.New("agent not found")

// Boston matrix thresholds.
const (
	bostonGrowthThreshold = 10.0
	bostonShareThreshold  = 1.0
)

// Agent is a preset assistant with its own prompt and knowledge filter.
type Agent interface {
	Info() AgentInfo
	Execute(ctx context.Context, query string, input map[string]any) (map[string]any, error)
}

// AgentInfo describes an agent for listings.
type AgentInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AgentManager holds the preset agents.
type AgentManager struct {
	agents map[string]Agent
}

func NewAgentManager(llm LLM, retriever retrieval.Retriever) *AgentManager {
	base := agentBase{llm: llm, retriever: retriever}
	m := &AgentManager{agents: map[string]Agent{}}
	for _, a := range []Agent{
		&bostonMatrixAgent{base},
		&swotAgent{base},
		&knowledgeAgent{
			agentBase: base,
			info:      AgentInfo{ID: "credit_qa", Name: "信贷问答助手", Description: "解答信贷业务相关问题"},
			filters:   map[string]any{"knowledge_base": "credit_policy"},
			topK:      10, use: 5,
			temp: 0.2, maxTokens: 1000,
			prompt: `你是专业的信贷业务助手。请基于以下信贷政策和监管要求回答问题：

知识库内容：
%s

问题：%s

要求：
1. 回答准确，符合银行信贷政策
2. 引用具体的政策文件或规定
3. 如果涉及计算，提供计算步骤
4. 回答要专业、简洁`,
		},
		&knowledgeAgent{
			agentBase: base,
			info:      AgentInfo{ID: "retail_transformation", Name: "零售转型助手", Description: "提供银行零售业务转型相关分析"},
			filters:   map[string]any{"category": "retail_transformation"},
			topK:      15, use: 10,
			temp: 0.3, maxTokens: 2000,
			prompt: `基于以下零售转型知识和案例，回答用户问题：

知识库：
%s

问题：%s

要求：
1. 提供具体的转型策略建议
2. 引用同业成功案例
3. 分析数字化获客渠道
4. 提供产品创新建议`,
		},
		&documentWritingAgent{base},
	} {
		m.agents[a.Info().ID] = a
	}
	return m
}

// List returns the agents sorted by id.
func (m *AgentManager) List() []AgentInfo {
	out := make([]AgentInfo, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Execute runs one agent. input is agent specific and may be nil.
func (m *AgentManager) Execute(ctx context.Context, agentID, query string, input map[string]any) (map[string]any, error) {
	a, ok := m.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	out, err := a.Execute(ctx, query, input)
	if err != nil {
		return nil, fmt.Errorf("agent %s failed: %w", agentID, err)
	}
	out["agent_id"] = agentID
	return out, nil
}

type agentBase struct {
	llm       LLM
	retriever retrieval.Retriever
}

func (b agentBase) generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	if b.llm == nil {
		return "", gateway.ErrProviderUnavailable
	}
	return b.llm.Generate(ctx, prompt, gateway.GenerateOptions{Temperature: temperature, MaxTokens: maxTokens})
}

func (b agentBase) retrieve(ctx context.Context, query string, topK int, filters map[string]any) []retrieval.Document {
	if b.retriever == nil {
		return nil
	}
	return b.retriever.Retrieve(ctx, query, topK, filters, true)
}

func joinContent(docs []retrieval.Document, n, runes int) string {
	parts := make([]string, 0, n)
	for i, d := range docs {
		if i == n {
			break
		}
		parts = append(parts, utils.TruncateRunes(d.Content, runes))
	}
	return orNone(strings.Join(parts, "\n"))
}

func sourceList(docs []retrieval.Document, n int) []map[string]string {
	out := []map[string]string{}
	for i, d := range docs {
		if i == n {
			break
		}
		out = append(out, map[string]string{"source": d.Source})
	}
	return out
}

type bostonMatrixAgent struct{ agentBase }

func (a *bostonMatrixAgent) Info() AgentInfo {
	return AgentInfo{ID: "boston_matrix", Name: "波士顿矩阵助手", Description: "自动生成波士顿矩阵图，划分业务类型并给出建议"}
}

// Product is one business line placed on the matrix.
type Product struct {
	Name          string  `json:"name"`
	MarketGrowth  float64 `json:"market_growth"`
	RelativeShare float64 `json:"relative_share"`
	Category      string  `json:"category"`
	Suggestion    string  `json:"suggestion"`
}

// ClassifyProduct places a product by market growth (percent) and relative share.
func ClassifyProduct(growth, share float64) (category, suggestion string) {
	switch {
	case growth >= bostonGrowthThreshold && share >= bostonShareThreshold:
		return "明星业务", "加大投资，保持竞争优势"
	case growth < bostonGrowthThreshold && share >= bostonShareThreshold:
		return "现金牛业务", "维持现状，获取现金流"
	case growth >= bostonGrowthThreshold:
		return "问题业务", "评估投资价值，考虑放弃或加大投入"
	default:
		return "瘦狗业务", "考虑退出或转型"
	}
}

// Execute classifies input["products"]. The narrative is best effort: the
// classification is returned even when the model is unavailable.
func (a *bostonMatrixAgent) Execute(ctx context.Context, _ string, input map[string]any) (map[string]any, error) {
	raw, _ := input["products"].([]any)
	products := make([]Product, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		growth, _ := toFloat(m["market_growth"])
		share, _ := toFloat(m["relative_share"])
		p := Product{Name: str(m["name"]), MarketGrowth: growth, RelativeShare: share}
		p.Category, p.Suggestion = ClassifyProduct(growth, share)
		products = append(products, p)
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("%w: context.products must list {name, market_growth, relative_share}", ErrInvalidArgument)
	}

	points := make([]map[string]any, 0, len(products))
	for _, p := range products {
		points = append(points, map[string]any{
			"name":     p.Name,
			"value":    []float64{p.MarketGrowth, p.RelativeShare},
			"category": p.Category,
		})
	}

	table, _ := json.Marshal(products)
	analysis, err := a.generate(ctx, fmt.Sprintf(`基于以下波士顿矩阵分析结果，生成详细的分析报告：

%s

要求：
1. 总结各业务类型的特点
2. 给出整体业务组合建议
3. 识别需要关注的业务`, table), 0.3, 1000)
	if err != nil {
		slog.Warn("Boston matrix narrative unavailable", "error", err)
		analysis = ""
	}

	return map[string]any{
		"matrix_data":  products,
		"analysis":     analysis,
		"chart_config": map[string]any{"type": "scatter", "data": points},
	}, nil
}

type swotAgent struct{ agentBase }

func (a *swotAgent) Info() AgentInfo {
	return AgentInfo{ID: "swot", Name: "SWOT分析助手", Description: "自动生成SWOT分析表及战略建议"}
}

func (a *swotAgent) Execute(ctx context.Context, query string, input map[string]any) (map[string]any, error) {
	subject := str(input["entity_info"])
	if subject == "" {
		subject = query
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: query or context.entity_info is required", ErrInvalidArgument)
	}

	docs := a.retrieve(ctx, subject, 10, nil)
	out, err := a.generate(ctx, fmt.Sprintf(`对以下企业/业务线进行SWOT分析：

%s

相关知识：
%s

请生成：
1. Strengths（优势）
2. Weaknesses（劣势）
3. Opportunities（机会）
4. Threats（威胁）
5. 战略建议

返回JSON格式。`, subject, joinContent(docs, 5, 500)), 0.3, 2000)
	if err != nil {
		return nil, err
	}

	res := map[string]any{"swot_analysis": out, "sources": sourceList(docs, 3)}
	if parsed, ok := parseJSONObject(out); ok {
		res["structured"] = parsed
	}
	return res, nil
}

// knowledgeAgent answers from a filtered slice of the knowledge base.
type knowledgeAgent struct {
	agentBase
	info      AgentInfo
	filters   map[string]any
	topK, use int
	temp      float64
	maxTokens int
	prompt    string
}

func (a *knowledgeAgent) Info() AgentInfo { return a.info }

func (a *knowledgeAgent) Execute(ctx context.Context, query string, _ map[string]any) (map[string]any, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}
	docs := a.retrieve(ctx, query, a.topK, a.filters)
	answer, err := a.generate(ctx, fmt.Sprintf(a.prompt, joinContent(docs, a.use, 500), query), a.temp, a.maxTokens)
	if err != nil {
		return nil, err
	}
	return map[string]any{"answer": answer, "sources": sourceList(docs, 5)}, nil
}

type documentWritingAgent struct{ agentBase }

func (a *documentWritingAgent) Info() AgentInfo {
	return AgentInfo{ID: "document_writing", Name: "公文写作助手", Description: "支持银行内部公文撰写"}
}

var documentTemplates = map[string]string{
	"通知": "关于{title}的通知\n\n各部门：\n\n{content}\n\n特此通知。\n\n{organization}\n{date}",
	"请示": "关于{title}的请示\n\n{recipient}：\n\n{content}\n\n请批示。\n\n{organization}\n{date}",
	"报告": "{title}报告\n\n{recipient}：\n\n{content}\n\n{organization}\n{date}",
}

func (a *documentWritingAgent) Execute(ctx context.Context, query string, input map[string]any) (map[string]any, error) {
	docType := str(input["doc_type"])
	if _, ok := documentTemplates[docType]; !ok {
		docType = "通知"
	}
	info := input["content_info"]
	if info == nil {
		info = query
	}
	infoJSON, _ := json.Marshal(info)

	draft, err := a.generate(ctx, fmt.Sprintf(`基于以下信息，生成符合银行公文格式规范的%s：

信息：
%s

参考模板：
%s

要求：
1. 符合银行公文格式（标题、主送、正文、落款）
2. 语言正式、严谨
3. 逻辑清晰
4. 完整填写模板中的占位符`, docType, infoJSON, documentTemplates[docType]), 0.2, 2000)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"doc_type":      docType,
		"draft":         draft,
		"template_used": documentTemplates[docType],
	}, nil
}

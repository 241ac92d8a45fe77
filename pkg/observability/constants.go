package observability

const (
	DefaultServiceName  = "finrag"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
	DefaultNamespace    = "finrag"
)

// Span names.
const (
	SpanTurn         = "coordinator.turn"
	SpanRetrieve     = "retrieval.retrieve"
	SpanRerank       = "retrieval.rerank"
	SpanToolCall     = "tool.call"
	SpanEmbed        = "gateway.embed"
	SpanGenerate     = "gateway.generate"
	SpanHTTPRequest  = "http.request"
	SpanResourceRead = "tool.read_resource"
)

// Span attribute keys.
const (
	AttrProvider       = "finrag.provider"
	AttrModel          = "finrag.model"
	AttrTool           = "finrag.tool"
	AttrConversationID = "finrag.conversation_id"
	AttrIntentType     = "finrag.intent.type"
	AttrTopK           = "finrag.top_k"
	AttrResults        = "finrag.results"
	AttrDegraded       = "finrag.degraded"
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"
)

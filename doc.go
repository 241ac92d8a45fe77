// Package finrag is a retrieval-augmented assistant for financial analysis.
//
// A conversation turn classifies the question, picks a tool from the
// catalog, retrieves supporting passages through hybrid vector and
// knowledge graph search, and asks a language model to answer from them.
//
// # Quick Start
//
// Index some filings and start the server:
//
//	finrag ingest ./reports
//	finrag serve --config finrag.yaml
//
// Ask a question:
//
//	curl -X POST localhost:8080/v1/chat -d '{"query": "招商银行2023年净息差"}'
//
// The same tools are served over MCP at /mcp, or on stdio with
// "finrag mcp".
//
// # Layout
//
//   - pkg/gateway: embedding and generation with provider fallback
//   - pkg/retrieval: hybrid retrieval, fusion and reranking
//   - pkg/toolserver, pkg/toolclient: the MCP tool catalog and its client
//   - pkg/coordinator: conversation turns
//   - pkg/services: the financial analyses behind the tools
package finrag

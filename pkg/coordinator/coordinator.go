// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package coordinator runs a conversation turn: intent extraction,
// retrieval, optional tool use and grounded answer generation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/finance"
	"github.com/kadirpekel/finrag/pkg/gateway"
	"github.com/kadirpekel/finrag/pkg/observability"
	"github.com/kadirpekel/finrag/pkg/retrieval"
	"github.com/kadirpekel/finrag/pkg/utils"
)

const (
	retrieveTopK = 10
	sourceCount  = 3
	intentPrompt = `从以下金融问题中提取意图，仅返回JSON：
{"type": "query|compare|attribution|trend|risk", "company": "公司名", "indicator": "指标名", "year": 年份}

问题：%s`
)

// latestReportYear is the comparison end year when a question names none.
const latestReportYear = 2023

// LLM is the generation capability a turn needs.
type LLM interface {
	Generate(ctx context.Context, prompt string, opts gateway.GenerateOptions) (string, error)
	GenerateWithRetry(ctx context.Context, prompt string, opts gateway.GenerateOptions) (string, error)
}

// ToolClient is the tool protocol surface used in tool mode.
type ToolClient interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
	SearchKnowledge(ctx context.Context, query string, topK int) []retrieval.Document
}

// Source is a cited knowledge document.
type Source struct {
	Source    string  `json:"source"`
	Relevance float64 `json:"relevance"`
}

// Response is the outcome of one turn.
type Response struct {
	Answer         string          `json:"answer"`
	ConversationID string          `json:"conversation_id"`
	History        []Message       `json:"history"`
	Sources        []Source        `json:"sources"`
	Intent         Intent          `json:"intent"`
	ToolCall       *ToolInvocation `json:"tool_call,omitempty"`
}

type entry struct {
	mu   sync.Mutex
	conv *Conversation
}

// Coordinator owns the conversation table and runs turns.
type Coordinator struct {
	cfg       config.CoordinatorConfig
	llm       LLM
	retriever retrieval.Retriever
	tools     ToolClient
	vocab     atomic.Pointer[finance.Vocabulary]
	store     ConversationStore
	tokens    *utils.TokenCounter
	tracer    trace.Tracer
	now       func() time.Time

	mu    sync.Mutex
	convs map[string]*entry
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithToolClient enables tool mode. Retrieval then goes through the client too.
func WithToolClient(tc ToolClient) Option {
	return func(c *Coordinator) { c.tools = tc }
}

// WithStore persists conversations.
func WithStore(s ConversationStore) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithVocabulary replaces the built-in company and indicator vocabulary.
func WithVocabulary(v *finance.Vocabulary) Option {
	return func(c *Coordinator) { c.vocab.Store(v) }
}

func withClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator. retriever may be nil in tool mode.
func New(cfg config.CoordinatorConfig, llm LLM, retriever retrieval.Retriever, opts ...Option) (*Coordinator, error) {
	if llm == nil {
		return nil, errors.New("llm is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinator config: %w", err)
	}

	c := &Coordinator{
		cfg:       cfg,
		llm:       llm,
		retriever: retriever,
		store:     NewMemoryStore(),
		tracer:    observability.GetTracer("finrag.coordinator"),
		now:       time.Now,
		convs:     map[string]*entry{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.vocab.Load() == nil {
		c.vocab.Store(finance.Default())
	}
	if c.tools == nil && c.retriever == nil {
		return nil, errors.New("a retriever or a tool client is required")
	}

	tc, err := utils.NewTokenCounter(cfg.TokenizerModel)
	if err != nil {
		slog.Warn("Token counter unavailable, prompt budget disabled", "model", cfg.TokenizerModel, "error", err)
	} else {
		c.tokens = tc
	}
	return c, nil
}

// SetVocabulary swaps the vocabulary used by later turns.
func (c *Coordinator) SetVocabulary(v *finance.Vocabulary) {
	if v != nil {
		c.vocab.Store(v)
	}
}

// ToolMode reports whether turns use the tool protocol client.
func (c *Coordinator) ToolMode() bool { return c.tools != nil }

// entryFor returns the table entry for id, loading it from the store on
// first use. The returned entry is locked.
func (c *Coordinator) entryFor(ctx context.Context, id string) (*entry, error) {
	c.mu.Lock()
	e, ok := c.convs[id]
	if !ok {
		e = &entry{}
		c.convs[id] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	if e.conv == nil {
		msgs, err := c.store.Load(ctx, id)
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.conv = &Conversation{ID: id, Messages: msgs, MaxHistory: c.cfg.MaxHistory}
	}
	return e, nil
}

// ProcessQuery runs one turn. An empty conversationID starts a new
// conversation; an unknown one is adopted as the id of a new conversation.
func (c *Coordinator) ProcessQuery(ctx context.Context, query, conversationID string) (resp *Response, err error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	start := c.now()

	ctx, span := c.tracer.Start(ctx, observability.SpanTurn,
		trace.WithAttributes(attribute.String(observability.AttrConversationID, conversationID)))
	defer span.End()

	intentType := ""
	toolUsed := false
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.GetGlobalMetrics().RecordTurn(ctx, intentType, time.Since(start), toolUsed, err)
	}()

	e, err := c.entryFor(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	turnCtx, cancel := context.WithTimeout(ctx, c.cfg.TurnTimeout)
	defer cancel()

	// Restored if generation fails.
	prior := cloneMessages(e.conv.Messages)
	e.conv.Append(RoleUser, query, c.now())

	intent := c.extractIntent(turnCtx, query)
	intentType = intent.Type
	span.SetAttributes(attribute.String(observability.AttrIntentType, intent.Type))

	docs := c.retrieve(turnCtx, query, intent)

	var inv *ToolInvocation
	if c.tools != nil {
		inv = c.invokeTool(turnCtx, query, intent)
		toolUsed = inv != nil && !inv.IsError
	}

	prompt := buildPrompt(c.tokens, c.cfg.MaxPromptTokens, query, docs, inv, e.conv.Recent(promptHistory))
	answer, err := c.llm.GenerateWithRetry(turnCtx, prompt, gateway.GenerateOptions{Temperature: 0.3, MaxTokens: 1000})
	if err != nil {
		if !errors.Is(turnCtx.Err(), context.DeadlineExceeded) || ctx.Err() != nil {
			// Roll back the user message so a failed turn leaves no trace.
			e.conv.Messages = prior
			return nil, fmt.Errorf("failed to generate answer: %w", err)
		}
		slog.Warn("Turn deadline exceeded, answering with fallback",
			"conversation_id", conversationID, "timeout", c.cfg.TurnTimeout)
		answer = answerFallback
	}

	e.conv.Append(RoleAssistant, answer, c.now())
	if err := c.store.Save(context.WithoutCancel(ctx), conversationID, e.conv.Messages); err != nil {
		slog.Error("Failed to persist conversation", "conversation_id", conversationID, "error", err)
	}

	return &Response{
		Answer:         answer,
		ConversationID: conversationID,
		History:        cloneMessages(e.conv.Messages),
		Sources:        topSources(docs),
		Intent:         intent,
		ToolCall:       inv,
	}, nil
}

func (c *Coordinator) extractIntent(ctx context.Context, query string) Intent {
	vocab := c.vocab.Load()
	rules := ruleIntent(vocab, query)
	out, err := c.llm.Generate(ctx, fmt.Sprintf(intentPrompt, query), gateway.GenerateOptions{Temperature: 0.1, MaxTokens: 500})
	if err != nil {
		slog.Warn("Intent extraction failed, using rules", "error", err)
		return rules
	}
	li, ok := parseLLMIntent(out)
	return mergeIntent(vocab, rules, li, ok)
}

// retrieve never fails the turn: an empty result is a degraded answer.
func (c *Coordinator) retrieve(ctx context.Context, query string, intent Intent) []retrieval.Document {
	if c.tools != nil {
		return c.tools.SearchKnowledge(ctx, query, retrieveTopK)
	}
	return c.retriever.Retrieve(ctx, query, retrieveTopK, intent.Filters(), true)
}

func (c *Coordinator) invokeTool(ctx context.Context, query string, intent Intent) *ToolInvocation {
	tools, err := c.tools.ListTools(ctx)
	if err != nil {
		slog.Warn("Failed to list tools", "error", err)
		return nil
	}
	inv := c.selectTool(ctx, query, intent, tools)
	if inv == nil {
		return nil
	}

	result, err := c.tools.CallTool(ctx, inv.Name, inv.Arguments)
	if err != nil {
		slog.Warn("Tool call failed", "tool", inv.Name, "error", err)
		inv.IsError = true
		inv.Error = err.Error()
		return inv
	}
	inv.Result = result
	return inv
}

func topSources(docs []retrieval.Document) []Source {
	out := make([]Source, 0, sourceCount)
	for i, d := range docs {
		if i == sourceCount {
			break
		}
		rel := d.FinalScore
		if rel == 0 {
			rel = d.Score
		}
		src := d.Source
		if src == "" {
			src = unknownSource
		}
		out = append(out, Source{Source: src, Relevance: rel})
	}
	return out
}

// GetConversationHistory returns the retained messages, empty when unknown.
func (c *Coordinator) GetConversationHistory(ctx context.Context, id string) ([]Message, error) {
	c.mu.Lock()
	e, ok := c.convs[id]
	c.mu.Unlock()
	if ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.conv != nil {
			return cloneMessages(e.conv.Messages), nil
		}
	}
	msgs, err := c.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return cloneMessages(msgs), nil
}

// ClearConversationHistory forgets a conversation. Unknown ids are a no-op.
func (c *Coordinator) ClearConversationHistory(ctx context.Context, id string) error {
	c.mu.Lock()
	e, ok := c.convs[id]
	delete(c.convs, id)
	c.mu.Unlock()
	if ok {
		// Wait for an in-flight turn before dropping the store row.
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	return c.store.Delete(ctx, id)
}

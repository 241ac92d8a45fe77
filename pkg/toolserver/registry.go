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

// Package toolserver exposes the financial services as named tools and two
// read-only resources, both in process and over the Model Context Protocol.
package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mitchellh/mapstructure"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/finrag/pkg/observability"
	"github.com/kadirpekel/finrag/pkg/retrieval"
	"github.com/kadirpekel/finrag/pkg/services"
)

// Resource URIs.
const (
	KnowledgeSearchURI = "knowledge://search"
	FinancialDataURI   = "financial://data"
)

// Defaults for resource reads.
const (
	DefaultSearchTopK   = 10
	DefaultResourceYear = 2023
)

const mimeJSON = "application/json"

// ToolDescriptor describes one tool and its argument schema.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ResourceDescriptor describes one readable resource.
type ResourceDescriptor struct {
	URIScheme   string `json:"uri_scheme"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ContentType string `json:"content_type"`
}

type handlerFunc func(ctx context.Context, args map[string]any) (any, error)

type entry struct {
	desc     ToolDescriptor
	required []string
	handle   handlerFunc
}

// Registry maps tool names to service calls.
type Registry struct {
	svc       *services.Services
	retriever retrieval.Retriever
	tools     map[string]*entry
	order     []string
	tracer    trace.Tracer
}

// New builds the registry with the full tool catalog. retriever backs the
// knowledge://search resource and may be nil.
func New(svc *services.Services, retriever retrieval.Retriever) (*Registry, error) {
	if svc == nil {
		return nil, errors.New("services are required")
	}
	r := &Registry{
		svc:       svc,
		retriever: retriever,
		tools:     map[string]*entry{},
		tracer:    observability.GetTracer("finrag/toolserver"),
	}
	if err := r.registerCatalog(); err != nil {
		return nil, err
	}
	return r, nil
}

// register adds a tool whose arguments decode into T.
func register[T any](r *Registry, name, description string, fn func(ctx context.Context, args T) (any, error)) error {
	if _, dup := r.tools[name]; dup {
		return fmt.Errorf("tool %q already registered", name)
	}
	schema, required, err := schemaFor[T]()
	if err != nil {
		return fmt.Errorf("tool %s: %w", name, err)
	}
	r.tools[name] = &entry{
		desc:     ToolDescriptor{Name: name, Description: description, InputSchema: schema},
		required: required,
		handle: func(ctx context.Context, raw map[string]any) (any, error) {
			var args T
			if err := decodeArgs(raw, &args); err != nil {
				return nil, err
			}
			return fn(ctx, args)
		},
	}
	r.order = append(r.order, name)
	return nil
}

// decodeArgs converts loosely typed arguments into the tool's struct.
// Numeric strings are accepted for numbers; anything else that does not fit
// is an argument error.
func decodeArgs(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrToolArgumentInvalid, err)
	}
	return nil
}

// ListTools returns the catalog in registration order.
func (r *Registry) ListTools() []ToolDescriptor {
	out := make([]ToolDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].desc)
	}
	return out
}

// ListResources returns the two resource schemes.
func (r *Registry) ListResources() []ResourceDescriptor {
	return []ResourceDescriptor{
		{
			URIScheme:   KnowledgeSearchURI,
			Name:        "知识库检索",
			Description: "Hybrid search over the knowledge base: knowledge://search?query=<q>&top_k=<n>",
			ContentType: mimeJSON,
		},
		{
			URIScheme:   FinancialDataURI,
			Name:        "财务数据",
			Description: "One reported figure: financial://data?company=<c>&indicator=<i>&year=<y>",
			ContentType: mimeJSON,
		},
	}
}

// CallTool runs a tool. Every failure, including a panic in the handler, is
// reported as an error result rather than returned.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]any) (res *mcp.CallToolResult) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, observability.SpanToolCall, trace.WithAttributes(
		attribute.String(observability.AttrTool, name),
	))
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Tool panicked", "tool", name, "panic", p, "stack", string(debug.Stack()))
			res = mcp.NewToolResultError(fmt.Sprintf("tool %s failed: internal error", name))
		}
		if res.IsError {
			span.SetStatus(codes.Error, "tool error")
		}
		span.End()
		observability.GetGlobalMetrics().RecordToolCall(ctx, name, time.Since(start), res.IsError)
	}()

	e, ok := r.tools[name]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", ErrToolNotFound, name))
	}
	for _, key := range e.required {
		v, present := args[key]
		if !present || v == nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: missing required argument %q", ErrToolArgumentInvalid, key))
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			return mcp.NewToolResultError(fmt.Sprintf("%s: required argument %q is empty", ErrToolArgumentInvalid, key))
		}
	}

	out, err := e.handle(ctx, args)
	if err != nil {
		slog.Warn("Tool call failed", "tool", name, "error", err)
		span.RecordError(err)
		return mcp.NewToolResultError(err.Error())
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// ReadResource serves knowledge://search and financial://data.
func (r *Registry) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, error) {
	ctx, span := r.tracer.Start(ctx, observability.SpanResourceRead)
	defer span.End()

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrResourceSchemeUnknown, uri)
	}
	q := u.Query()

	var payload any
	switch u.Scheme + "://" + u.Host {
	case KnowledgeSearchURI:
		payload, err = r.searchKnowledge(ctx, q)
	case FinancialDataURI:
		payload, err = r.financialData(ctx, q)
	default:
		return nil, fmt.Errorf("%w: %s", ErrResourceSchemeUnknown, uri)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []mcp.ResourceContents{
			mcp.TextResourceContents{URI: uri, MIMEType: mimeJSON, Text: string(data)},
		},
	}, nil
}

func (r *Registry) searchKnowledge(ctx context.Context, q url.Values) ([]retrieval.Document, error) {
	query := q.Get("query")
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrToolArgumentInvalid)
	}
	topK := DefaultSearchTopK
	if s := q.Get("top_k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: top_k must be a positive integer", ErrToolArgumentInvalid)
		}
		topK = n
	}
	if r.retriever == nil {
		return []retrieval.Document{}, nil
	}
	return r.retriever.Retrieve(ctx, query, topK, nil, true), nil
}

func (r *Registry) financialData(ctx context.Context, q url.Values) (*services.IndicatorResult, error) {
	company, indicator := q.Get("company"), q.Get("indicator")
	if company == "" || indicator == "" {
		return nil, fmt.Errorf("%w: company and indicator are required", ErrToolArgumentInvalid)
	}
	year := DefaultResourceYear
	if s := q.Get("year"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: year must be an integer", ErrToolArgumentInvalid)
		}
		year = n
	}
	return r.svc.Reports.GetIndicator(ctx, company, indicator, year, q.Get("quarter"))
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	out := append([]string(nil), r.order...)
	sort.Strings(out)
	return out
}

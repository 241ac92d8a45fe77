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

// Package services implements the financial analysis operations exposed as
// tools: indicator lookup and comparison, attribution, trend, risk, alerts,
// report generation, preset agents and data integration.
//
// Reported figures live in the knowledge graph as Indicator entities; prose
// from filings is reached through the retrieval engine.
package services

import (
	"context"
	"errors"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/finance"
	"github.com/kadirpekel/finrag/pkg/gateway"
	"github.com/kadirpekel/finrag/pkg/graph"
	"github.com/kadirpekel/finrag/pkg/retrieval"
)

var (
	// ErrNoData means the graph holds no figures for the request.
	ErrNoData = errors.New("no indicator data")

	// ErrInvalidArgument wraps caller mistakes such as an empty company.
	ErrInvalidArgument = errors.New("invalid argument")
)

// LLM is the generation capability the services use.
type LLM interface {
	Generate(ctx context.Context, prompt string, opts gateway.GenerateOptions) (string, error)
}

// Ingester writes parsed documents into the retrieval index.
type Ingester interface {
	Ingest(ctx context.Context, docs []retrieval.IngestDocument) (retrieval.IngestStats, error)
}

// Deps are the collaborators shared by every service.
type Deps struct {
	LLM        LLM
	Retriever  retrieval.Retriever
	Ingester   Ingester
	Graph      graph.Store
	Vocabulary *finance.Vocabulary
}

// Services bundles the service set the tool registry dispatches to.
type Services struct {
	Indicators  *Indicators
	Reports     *ReportService
	Alerts      *AlertService
	Analysis    *AnalysisService
	Generator   *ReportGenerator
	Agents      *AgentManager
	Integration *IntegrationService
}

func New(cfg config.ServicesConfig, fin config.FinanceConfig, deps Deps) *Services {
	if deps.Vocabulary == nil {
		deps.Vocabulary = finance.Default()
	}
	indicators := NewIndicators(deps.Graph, deps.Vocabulary)
	alerts := NewAlertService(indicators, deps.LLM, fin.IndustryThreshold, fin.HistoricalThreshold)
	reports := NewReportService(indicators, deps.Graph, cfg.Concurrency)

	return &Services{
		Indicators:  indicators,
		Reports:     reports,
		Alerts:      alerts,
		Analysis:    NewAnalysisService(deps.LLM, deps.Retriever, indicators, alerts),
		Generator:   NewReportGenerator(deps.LLM, indicators, cfg.OutputDir),
		Agents:      NewAgentManager(deps.LLM, deps.Retriever),
		Integration: NewIntegrationService(cfg, deps.Ingester, indicators, deps.Vocabulary),
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/client"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/coordinator"
	"github.com/kadirpekel/finrag/pkg/finance"
	"github.com/kadirpekel/finrag/pkg/gateway"
	"github.com/kadirpekel/finrag/pkg/graph"
	"github.com/kadirpekel/finrag/pkg/observability"
	"github.com/kadirpekel/finrag/pkg/rerank"
	"github.com/kadirpekel/finrag/pkg/retrieval"
	"github.com/kadirpekel/finrag/pkg/services"
	"github.com/kadirpekel/finrag/pkg/toolclient"
	"github.com/kadirpekel/finrag/pkg/toolserver"
	"github.com/kadirpekel/finrag/pkg/vector"
)

// app is the wired process: every component built from one Config.
type app struct {
	cfg     *config.Config
	version string

	obs      *observability.Manager
	pool     *config.DBPool
	gateway  *gateway.Gateway
	vectors  vector.Provider
	graph    *graph.SQLStore
	engine   *retrieval.Engine
	services *services.Services
	registry *toolserver.Registry

	// localTools always talks to the in-process registry; the HTTP tool
	// routes use it even when turns go to a remote tool server.
	localTools *toolclient.Client
	remote     *client.Client

	coordinator *coordinator.Coordinator
}

func vocabularyFrom(cfg config.FinanceConfig) *finance.Vocabulary {
	return finance.NewVocabulary(cfg.Companies, cfg.Indicators, cfg.IndicatorMapping)
}

// newApp builds every component. withCoordinator is false for commands
// that only need the tool layer.
func newApp(ctx context.Context, cfg *config.Config, version string, withCoordinator bool) (_ *app, err error) {
	a := &app{cfg: cfg, version: version, pool: config.NewDBPool()}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.obs = observability.NewManager(cfg.Observability)
	if err := a.obs.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	a.gateway, err = gateway.NewFromConfig(cfg.LLM, cfg.Embedder, gateway.RequireProviders())
	if err != nil {
		return nil, fmt.Errorf("failed to create model gateway: %w", err)
	}
	gens, embs := a.gateway.Providers()
	slog.Info("Model gateway ready", "generators", gens, "embedders", embs)

	db, err := a.pool.Get(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.graph, err = graph.NewSQLStore(ctx, db, cfg.Database.Dialect())
	if err != nil {
		return nil, fmt.Errorf("failed to create graph store: %w", err)
	}

	a.vectors, err = vector.NewFromConfig(cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	reranker, err := rerank.FromConfig(cfg.Reranker, a.gateway)
	if err != nil {
		return nil, fmt.Errorf("failed to create reranker: %w", err)
	}

	opts := []retrieval.Option{
		retrieval.WithCollection(cfg.Vector.Collection),
		retrieval.WithReranker(reranker),
		retrieval.WithChunking(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap),
	}
	if cfg.Retrieval.HybridEnabled() {
		opts = append(opts, retrieval.WithGraph(a.graph))
	}
	a.engine = retrieval.New(a.gateway, a.vectors, opts...)

	if err := a.engine.EnsureCollection(ctx, cfg.Embedder.Dimension()); err != nil {
		return nil, err
	}

	vocab := vocabularyFrom(cfg.Finance)
	a.services = services.New(cfg.Services, cfg.Finance, services.Deps{
		LLM:        a.gateway,
		Retriever:  a.engine,
		Ingester:   a.engine,
		Graph:      a.graph,
		Vocabulary: vocab,
	})

	a.registry, err = toolserver.New(a.services, a.engine)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool registry: %w", err)
	}
	a.localTools = toolclient.New(toolclient.NewInProcess(a.registry))

	if !withCoordinator {
		return a, nil
	}

	coordOpts := []coordinator.Option{coordinator.WithVocabulary(vocab)}
	if cfg.Coordinator.ToolMode {
		tools := a.localTools
		if ts := cfg.Coordinator.ToolServer; ts != nil {
			a.remote, err = toolclient.Dial(ctx, toolclient.RemoteConfig{URL: ts.URL, Command: ts.Command, Args: ts.Args}, version)
			if err != nil {
				return nil, err
			}
			tools = toolclient.New(a.remote)
		}
		coordOpts = append(coordOpts, coordinator.WithToolClient(tools))
	}
	if cfg.Coordinator.Persist {
		store, err := coordinator.NewSQLStore(ctx, db, cfg.Database.Dialect())
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation store: %w", err)
		}
		coordOpts = append(coordOpts, coordinator.WithStore(store))
	}

	a.coordinator, err = coordinator.New(cfg.Coordinator, a.gateway, a.engine, coordOpts...)
	if err != nil {
		return nil, err
	}
	slog.Info("Coordinator ready", "tool_mode", a.coordinator.ToolMode(), "persist", cfg.Coordinator.Persist)
	return a, nil
}

// reload applies the parts of a new configuration that can change live.
func (a *app) reload(cfg *config.Config) {
	if a.coordinator != nil {
		a.coordinator.SetVocabulary(vocabularyFrom(cfg.Finance))
	}
	slog.Info("Finance vocabulary reloaded",
		"companies", len(cfg.Finance.Companies), "indicators", len(cfg.Finance.Indicators))
}

func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.remote != nil {
		errs = append(errs, a.remote.Close())
	}
	if a.vectors != nil {
		errs = append(errs, a.vectors.Close())
	}
	if a.pool != nil {
		errs = append(errs, a.pool.Close())
	}
	if a.obs != nil {
		errs = append(errs, a.obs.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Shutdown finished with errors", "error", err)
	}
}

package main

import (
	"fmt"
	"log/slog"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/ratelimit"
	"github.com/kadirpekel/finrag/pkg/transport"
)

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Address string `help:"Listen address. Overrides config." placeholder:"HOST:PORT"`
	Watch   bool   `help:"Watch the config source and reload the finance vocabulary."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	var a *app
	cfg, loader, err := cli.loadConfig(ctx, config.WithOnChange(func(next *config.Config) {
		if a != nil {
			a.reload(next)
		}
	}))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	cleanup, err := cli.initLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	if c.Address != "" {
		cfg.Server.Address = c.Address
	}

	version := buildVersion()
	a, err = newApp(ctx, cfg, version, true)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	opts := []transport.Option{
		transport.WithTools(a.localTools),
		transport.WithVersion(version),
	}
	if h := a.obs.MetricsHandler(); h != nil {
		opts = append(opts, transport.WithMetricsHandler(h))
	}
	if cfg.Server.MCPEnabled() {
		h, err := a.registry.HTTPHandler(version)
		if err != nil {
			return fmt.Errorf("failed to create MCP handler: %w", err)
		}
		opts = append(opts, transport.WithMCPHandler(h))
	}
	if cfg.Server.RateLimit.Enabled() {
		limiter, err := ratelimit.New(cfg.Server.RateLimit)
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		go limiter.Run(ctx, cfg.Server.RateLimit.Window)
		opts = append(opts, transport.WithRateLimit(limiter))
	}

	srv := transport.New(cfg.Server, a.coordinator, opts...)
	fmt.Printf("\nfinrag server ready\n")
	fmt.Printf("   Chat:    POST http://%s/v1/chat\n", displayAddress(cfg.Server.Address))
	fmt.Printf("   Tools:   GET  http://%s/v1/tools\n", displayAddress(cfg.Server.Address))
	if cfg.Server.MCPEnabled() {
		fmt.Printf("   MCP:     http://%s%s\n", displayAddress(cfg.Server.Address), cfg.Server.MCPPath)
	}
	fmt.Printf("   Health:  http://%s/health\n\n", displayAddress(cfg.Server.Address))

	return srv.Start(ctx)
}

func displayAddress(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

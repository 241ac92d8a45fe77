package main

import (
	"context"
	"os"

	"github.com/kadirpekel/finrag/pkg/config"
)

// MCPCmd serves the tool catalog over stdio for MCP hosts. Logs always go
// to stderr or the log file since stdout carries the protocol.
type MCPCmd struct{}

func (c *MCPCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, loader, err := cli.loadConfig(ctx)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	cleanup, err := cli.initLogger(stderrLogger(cfg.Logger))
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := newApp(ctx, cfg, buildVersion(), false)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	return a.registry.ServeStdio(buildVersion())
}

func stderrLogger(cfg config.LoggerConfig) config.LoggerConfig {
	if cfg.File == os.Stdout.Name() {
		cfg.File = ""
	}
	return cfg
}

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

// Command finrag is the CLI for the financial knowledge assistant.
//
// Usage:
//
//	finrag serve --config finrag.yaml
//	finrag chat --config finrag.yaml
//	finrag mcp --config finrag.yaml
//	finrag ingest ./reports --watch
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/finrag"
	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/config/provider"
	"github.com/kadirpekel/finrag/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP API and MCP endpoint."`
	Chat    ChatCmd    `cmd:"" help:"Chat with the assistant in the terminal."`
	MCP     MCPCmd     `cmd:"" name:"mcp" help:"Serve the tool catalog over MCP stdio."`
	Ingest  IngestCmd  `cmd:"" help:"Parse documents and add them to the knowledge base."`

	Config          string   `short:"c" help:"Path (or key, for remote providers) of the config document."`
	ConfigProvider  string   `name:"config-provider" help:"Config source: file, consul, etcd, zookeeper." default:"file"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Remote config store addresses." sep:","`

	LogLevel  string `help:"Log level (debug, info, warn, error). Overrides config."`
	LogFile   string `help:"Log file path (empty = stderr). Overrides config."`
	LogFormat string `help:"Log format (simple, verbose, json). Overrides config."`
}

func buildVersion() string {
	return finrag.GetVersion().Version
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(finrag.GetVersion())
	return nil
}

// loadConfig reads the configured document, or returns defaults when no
// path was given. The loader is nil in that case.
func (cli *CLI) loadConfig(ctx context.Context, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, nil, err
	}
	if cli.Config == "" {
		return config.Default(), nil, nil
	}

	pt, err := provider.ParseType(cli.ConfigProvider)
	if err != nil {
		return nil, nil, err
	}
	return config.LoadConfig(ctx, provider.ProviderConfig{
		Type:      pt,
		Path:      cli.Config,
		Endpoints: cli.ConfigEndpoints,
	}, opts...)
}

// initLogger applies config logging, with CLI flags taking precedence.
// The returned cleanup closes the log file, if any.
func (cli *CLI) initLogger(cfg config.LoggerConfig) (func(), error) {
	level, file, format := cfg.Level, cfg.File, cfg.Format
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	if cli.LogFile != "" {
		file = cli.LogFile
	}
	if cli.LogFormat != "" {
		format = cli.LogFormat
	}

	if file == "" {
		logger.Init(logger.ParseLevel(level), os.Stderr, format)
		return func() {}, nil
	}
	f, cleanup, err := logger.OpenLogFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.Init(logger.ParseLevel(level), f, format)
	return cleanup, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			slog.Info("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("finrag"),
		kong.Description("Financial knowledge assistant: hybrid retrieval, analysis tools and grounded answers."),
		kong.UsageOnError(),
	)

	// Logging starts at the flag level so config loading is visible; each
	// command re-initialises it once the config is known.
	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr, cli.LogFormat)

	if err := kctx.Run(&cli); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

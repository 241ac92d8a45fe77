package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kadirpekel/finrag/pkg/document"
	"github.com/kadirpekel/finrag/pkg/services"
)

// watchDebounce coalesces the burst of write events an editor or copy emits.
const watchDebounce = 500 * time.Millisecond

// IngestCmd parses files into the knowledge base.
type IngestCmd struct {
	Paths []string `arg:"" optional:"" help:"Files or directories (documents type only)." type:"path"`
	Type  string   `help:"Data type: documents, bank_reports, macro_data, policy_files." default:"documents" enum:"documents,bank_reports,macro_data,policy_files"`
	Banks []string `help:"Only these banks (bank_reports)." sep:","`
	Years []int    `help:"Only these years." sep:","`
	Watch bool     `help:"Keep running and ingest files created or changed under the given directories."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, loader, err := cli.loadConfig(ctx)
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

	a, err := newApp(ctx, cfg, buildVersion(), false)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	res, err := a.services.Integration.Integrate(ctx, services.IntegrationRequest{
		DataType:  c.Type,
		Paths:     c.Paths,
		BankNames: c.Banks,
		Years:     c.Years,
	})
	if err != nil {
		return err
	}
	printResult(res)

	if !c.Watch {
		return nil
	}
	return c.watch(ctx, a.services.Integration)
}

func printResult(res *services.IntegrationResult) {
	fmt.Printf("%s: %d files, %d documents, %d chunks, %d indicators\n",
		res.DataType, res.Files, res.Documents, res.Chunks, res.Indicators)
	for _, f := range res.Failed {
		fmt.Printf("  failed: %s\n", f)
	}
}

// watch ingests files that appear or change under the watched directories
// until ctx is cancelled. Each file is ingested as a documents batch.
func (c *IngestCmd) watch(ctx context.Context, svc *services.IntegrationService) error {
	dirs, err := c.watchDirs()
	if err != nil {
		return err
	}
	if len(dirs) == 0 {
		return fmt.Errorf("--watch needs at least one directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		slog.Info("Watching for new documents", "dir", dir)
	}

	parsers := document.NewRegistry()
	var (
		mu      sync.Mutex
		pending = map[string]*time.Timer{}
	)
	ingest := func(path string) {
		mu.Lock()
		delete(pending, path)
		mu.Unlock()

		res, err := svc.Integrate(ctx, services.IntegrationRequest{DataType: services.DataDocuments, Paths: []string{path}})
		if err != nil {
			slog.Error("Failed to ingest file", "path", path, "error", err)
			return
		}
		slog.Info("Ingested file", "path", path, "chunks", res.Chunks, "indicators", res.Indicators)
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range pending {
				t.Stop()
			}
			mu.Unlock()
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watcher error", "error", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !parsers.CanParse(ev.Name) {
				continue
			}
			mu.Lock()
			if t, ok := pending[ev.Name]; ok {
				t.Reset(watchDebounce)
			} else {
				path := ev.Name
				pending[path] = time.AfterFunc(watchDebounce, func() { ingest(path) })
			}
			mu.Unlock()
		}
	}
}

// watchDirs returns the directories among Paths, or the parent directory
// for a file path.
func (c *IngestCmd) watchDirs() ([]string, error) {
	seen := map[string]bool{}
	var dirs []string
	for _, p := range c.Paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		dir := p
		if !info.IsDir() {
			dir = filepath.Dir(p)
		}
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

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

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay coalesces the burst of events one save produces.
const settleDelay = 100 * time.Millisecond

// FileProvider serves a config file from local disk. Watch observes the
// parent directory so atomic replace-by-rename saves are seen too.
type FileProvider struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

func NewFileProvider(path string) (*FileProvider, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	return &FileProvider{path: abs}, nil
}

func (p *FileProvider) Type() Type { return TypeFile }

func (p *FileProvider) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", p.path, err)
	}
	return data, nil
}

// Watch signals once per settled change to the file. The channel closes
// when ctx ends or the provider is closed.
func (p *FileProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("provider is closed")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(p.path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(p.path), err)
	}
	p.watcher = w

	ch := make(chan struct{}, 1)
	go p.forward(ctx, w, ch)
	slog.Info("Watching config file", "path", p.path)
	return ch, nil
}

// forward owns ch. The settle timer is drained in the same select, so no
// send can happen after ch is closed.
func (p *FileProvider) forward(ctx context.Context, w *fsnotify.Watcher, ch chan struct{}) {
	defer close(ch)

	settle := time.NewTimer(settleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if p.relevant(ev) {
				settle.Reset(settleDelay)
			}
		case <-settle.C:
			notify(ch)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			slog.Error("Config file watcher error", "path", p.path, "error", err)
		}
	}
}

func (p *FileProvider) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != p.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

func (p *FileProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.watcher == nil {
		return nil
	}
	err := p.watcher.Close()
	p.watcher = nil
	return err
}

var _ Provider = (*FileProvider)(nil)

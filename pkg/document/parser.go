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

// Package document extracts plain text from the report formats finrag
// ingests: PDF annual reports, Word filings, Excel statements and text.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupported is returned for extensions no parser handles.
var ErrUnsupported = errors.New("unsupported document format")

// Parsed is the text of one file.
type Parsed struct {
	Path     string
	Title    string
	Content  string
	Metadata map[string]any
}

// parser handles one family of extensions.
type parser interface {
	Extensions() []string
	Parse(ctx context.Context, path string, size int64) (*Parsed, error)
}

// Registry dispatches on file extension.
type Registry struct {
	byExt map[string]parser
}

func NewRegistry() *Registry {
	r := &Registry{byExt: map[string]parser{}}
	for _, p := range []parser{pdfParser{}, wordParser{}, excelParser{}, textParser{}} {
		for _, ext := range p.Extensions() {
			r.byExt[ext] = p
		}
	}
	return r
}

// Supported lists handled extensions, sorted.
func (r *Registry) Supported() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// CanParse reports whether path has a handled extension.
func (r *Registry) CanParse(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Parse extracts the text of the file at path.
func (r *Registry) Parse(ctx context.Context, path string) (*Parsed, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.byExt[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	doc, err := p.Parse(ctx, path, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	doc.Path = path
	if doc.Title == "" {
		doc.Title = filepath.Base(path)
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	doc.Metadata["file_name"] = filepath.Base(path)
	doc.Metadata["file_modified"] = info.ModTime().UTC().Format("2006-01-02T15:04:05Z")
	return doc, nil
}

// Files lists the supported files under root, skipping hidden directories.
// A root that is itself a file is returned alone when supported.
func (r *Registry) Files(ctx context.Context, root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if r.CanParse(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

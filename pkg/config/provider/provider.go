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

// Package provider fetches the finrag YAML document from where it is kept:
// a local file, a Consul KV key, an etcd key or a ZooKeeper znode. Every
// source can also signal when the document changes so the serve command can
// reload the finance vocabulary without a restart.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Type names a config source.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

var typeAliases = map[string]Type{
	"":          TypeFile,
	"file":      TypeFile,
	"consul":    TypeConsul,
	"etcd":      TypeEtcd,
	"zookeeper": TypeZookeeper,
	"zk":        TypeZookeeper,
}

// ParseType accepts the --config-provider flag value. Empty means file.
func ParseType(s string) (Type, error) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown config provider %q (file, consul, etcd, zookeeper)", s)
	}
	return t, nil
}

// Provider reads the raw document. Implementations are safe for concurrent use.
type Provider interface {
	Type() Type
	Load(ctx context.Context) ([]byte, error)

	// Watch sends on the channel after each change until ctx is cancelled.
	// A nil channel means the source cannot be watched.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

// ProviderConfig selects where the finrag YAML document lives.
type ProviderConfig struct {
	Type Type

	// Path is a file path, or the key/znode holding the YAML for remote stores.
	Path string

	// Endpoints lists remote store addresses. The first entry is used by consul.
	Endpoints []string
}

func New(opts ProviderConfig) (Provider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path)
	case TypeConsul:
		return NewConsulProvider(opts.Endpoints, opts.Path)
	case TypeEtcd:
		return NewEtcdProvider(opts.Endpoints, opts.Path)
	case TypeZookeeper:
		return NewZookeeperProvider(opts.Endpoints, opts.Path)
	}
	return nil, fmt.Errorf("unknown config provider %q", opts.Type)
}

// notify sends without blocking; a pending signal already covers the change.
func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

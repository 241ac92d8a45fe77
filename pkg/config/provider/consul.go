package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/consul/api"
)

// ConsulProvider reads the YAML document from a Consul KV key and watches it
// with blocking queries.
type ConsulProvider struct {
	kv  *api.KV
	key string
}

func NewConsulProvider(endpoints []string, key string) (*ConsulProvider, error) {
	cfg := api.DefaultConfig()
	if len(endpoints) > 0 {
		cfg.Address = endpoints[0]
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return &ConsulProvider{kv: client.KV(), key: key}, nil
}

func (p *ConsulProvider) Type() Type { return TypeConsul }

func (p *ConsulProvider) Load(ctx context.Context) ([]byte, error) {
	pair, _, err := p.kv.Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("consul key %s not found", p.key)
	}
	return pair.Value, nil
}

func (p *ConsulProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	_, meta, err := p.kv.Get(p.key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to read consul key %s: %w", p.key, err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		index := meta.LastIndex
		for {
			opts := (&api.QueryOptions{WaitIndex: index, WaitTime: 5 * time.Minute}).WithContext(ctx)
			_, meta, err := p.kv.Get(p.key, opts)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				slog.Warn("Consul watch failed, retrying", "key", p.key, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			if meta.LastIndex != index {
				index = meta.LastIndex
				notify(ch)
			}
		}
	}()

	slog.Info("Watching consul key", "key", p.key)
	return ch, nil
}

func (p *ConsulProvider) Close() error { return nil }

var _ Provider = (*ConsulProvider)(nil)

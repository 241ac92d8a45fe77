package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdProvider reads the YAML document from an etcd v3 key.
type EtcdProvider struct {
	client *clientv3.Client
	key    string
}

func NewEtcdProvider(endpoints []string, key string) (*EtcdProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdProvider{client: client, key: key}, nil
}

func (p *EtcdProvider) Type() Type { return TypeEtcd }

func (p *EtcdProvider) Load(ctx context.Context) ([]byte, error) {
	resp, err := p.client.Get(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read etcd key %s: %w", p.key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("etcd key %s not found", p.key)
	}
	return resp.Kvs[0].Value, nil
}

func (p *EtcdProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	wch := p.client.Watch(ctx, p.key)

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				slog.Warn("etcd watch error", "key", p.key, "error", err)
				continue
			}
			if len(resp.Events) > 0 {
				notify(ch)
			}
		}
	}()

	slog.Info("Watching etcd key", "key", p.key)
	return ch, nil
}

func (p *EtcdProvider) Close() error {
	return p.client.Close()
}

var _ Provider = (*EtcdProvider)(nil)

package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-zookeeper/zk"
)

// ZookeeperProvider reads the YAML document from a znode.
type ZookeeperProvider struct {
	conn *zk.Conn
	path string
}

type zkLogger struct{}

func (zkLogger) Printf(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...), "source", "zookeeper")
}

func NewZookeeperProvider(endpoints []string, path string) (*ZookeeperProvider, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("zookeeper endpoints are required")
	}
	conn, _, err := zk.Connect(endpoints, 10*time.Second, zk.WithLogger(zkLogger{}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &ZookeeperProvider{conn: conn, path: path}, nil
}

func (p *ZookeeperProvider) Type() Type { return TypeZookeeper }

func (p *ZookeeperProvider) Load(_ context.Context) ([]byte, error) {
	data, _, err := p.conn.Get(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zookeeper path %s: %w", p.path, err)
	}
	return data, nil
}

// Watch re-arms a data watch after every event; zookeeper watches fire once.
func (p *ZookeeperProvider) Watch(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		for {
			_, _, events, err := p.conn.GetW(p.path)
			if err != nil {
				slog.Warn("Zookeeper watch failed", "path", p.path, "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				switch ev.Type {
				case zk.EventNodeDataChanged, zk.EventNodeCreated:
					notify(ch)
				case zk.EventNodeDeleted:
					slog.Warn("Zookeeper config node deleted", "path", p.path)
				}
			}
		}
	}()

	slog.Info("Watching zookeeper path", "path", p.path)
	return ch, nil
}

func (p *ZookeeperProvider) Close() error {
	p.conn.Close()
	return nil
}

var _ Provider = (*ZookeeperProvider)(nil)

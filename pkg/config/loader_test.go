package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "finrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("FINRAG_TEST_KEY", "sk-test")
	path := writeConfig(t, `
llm:
  providers:
    - type: openai
      api_key: ${FINRAG_TEST_KEY}
    - type: ollama
      model: ${FINRAG_TEST_MODEL:-qwen2.5:14b}
  retry_base_delay: 250ms
vector:
  type: chromem
database:
  driver: sqlite
  database: ":memory:"
coordinator:
  max_history: 4
  turn_timeout: 30s
server:
  cors_origins: "http://a.example,http://b.example"
finance:
  companies: [平安银行]
  indicator_mapping:
    利息净收入: 净利息收入
`)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()

	require.Len(t, cfg.LLM.Providers, 2)
	assert.Equal(t, "sk-test", cfg.LLM.Providers[0].APIKey)
	assert.Equal(t, "openai", cfg.LLM.Providers[0].Name)
	assert.Equal(t, "qwen2.5:14b", cfg.LLM.Providers[1].Model)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.Providers[1].BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.RetryBaseDelay)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)

	assert.Equal(t, 4, cfg.Coordinator.MaxHistory)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.TurnTimeout)
	assert.Equal(t, 6000, cfg.Coordinator.MaxPromptTokens)

	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "financial_knowledge", cfg.Vector.Collection)
	assert.Equal(t, "sqlite3", cfg.Database.DriverName())
	assert.Equal(t, "sqlite", cfg.Database.Dialect())

	assert.Equal(t, []string{"平安银行"}, cfg.Finance.Companies)
	assert.Equal(t, "净利息收入", cfg.Finance.IndicatorMapping["利息净收入"])
	assert.Equal(t, 0.15, cfg.Finance.IndustryThreshold)
	assert.Equal(t, 2023, cfg.Finance.DefaultYear)
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown vector type", "vector:\n  type: milvus\n", "vector"},
		{"openai without key", "llm:\n  providers:\n    - type: openai\n", "api_key is required"},
		{"http reranker without url", "reranker:\n  type: http\n", "base_url"},
		{"postgres without host", "database:\n  driver: postgres\n  database: finrag\n", "host is required"},
		{"bad log format", "logger:\n  format: xml\n", "invalid format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_EmptyDocumentUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, "chromem", cfg.Vector.Type)
	assert.Equal(t, "none", cfg.Reranker.Type)
	assert.Equal(t, 32, cfg.Reranker.BatchSize)
	assert.True(t, cfg.Retrieval.HybridEnabled())
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.True(t, cfg.Server.MCPEnabled())
	assert.NotEmpty(t, cfg.LLM.Providers)
}

func TestExpandEnvString(t *testing.T) {
	t.Setenv("FINRAG_A", "alpha")
	assert.Equal(t, "alpha", expandEnvString("${FINRAG_A}"))
	assert.Equal(t, "alpha-x", expandEnvString("$FINRAG_A-x"))
	assert.Equal(t, "fallback", expandEnvString("${FINRAG_UNSET_VAR:-fallback}"))
	assert.Equal(t, "plain", expandEnvString("plain"))
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Database: "finrag", Username: "u", Password: "p"}
	pg.SetDefaults()
	assert.Equal(t, "host=db port=5432 dbname=finrag user=u password=p sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Database: "finrag", Username: "u", Password: "p"}
	my.SetDefaults()
	assert.Equal(t, "u:p@tcp(db:3306)/finrag?parseTime=true&charset=utf8mb4", my.DSN())
}

func TestDBPool_SharesSQLite(t *testing.T) {
	pool := NewDBPool()
	defer pool.Close()

	cfg := &DatabaseConfig{Driver: "sqlite", Database: filepath.Join(t.TempDir(), "a.db")}
	cfg.SetDefaults()

	a, err := pool.Get(context.Background(), cfg)
	require.NoError(t, err)
	b, err := pool.Get(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, a.Stats().MaxOpenConnections)
}

func TestLoader_WatchReloads(t *testing.T) {
	path := writeConfig(t, "coordinator:\n  max_history: 3\n")

	reloaded := make(chan *Config, 1)
	_, loader, err := LoadConfigFile(context.Background(), path, WithOnChange(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	}))
	require.NoError(t, err)
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loader.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("coordinator:\n  max_history: 7\n"), 0o644))

	select {
	case c := <-reloaded:
		assert.Equal(t, 7, c.Coordinator.MaxHistory)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestParse_AcceptsJSON(t *testing.T) {
	cfg, err := Parse([]byte("{\n\t\"coordinator\": {\"max_history\": 9}\n}"))
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Coordinator.MaxHistory)

	_, err = Parse([]byte("coordinator: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse config")
}

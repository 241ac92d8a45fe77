package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ConversationStore persists conversation histories by id.
type ConversationStore interface {
	// Load returns the stored messages, or nil when the id is unknown.
	Load(ctx context.Context, id string) ([]Message, error)
	Save(ctx context.Context, id string, msgs []Message) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps histories in process.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: map[string][]Message{}}
}

func (s *MemoryStore) Load(_ context.Context, id string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, ok := s.convs[id]
	if !ok {
		return nil, nil
	}
	return cloneMessages(msgs), nil
}

func (s *MemoryStore) Save(_ context.Context, id string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[id] = cloneMessages(msgs)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, id)
	return nil
}

// SQLStore keeps each history as one JSON row so it survives restarts.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the conversations table when missing. dialect is
// sqlite, postgres or mysql.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	switch dialect {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	text := "TEXT"
	if dialect == "mysql" {
		text = "LONGTEXT"
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS conversations (
		id VARCHAR(255) PRIMARY KEY,
		messages `+text+` NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("failed to migrate conversation schema: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) rebind(q string) string {
	if s.dialect != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Load(ctx context.Context, id string) ([]Message, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT messages FROM conversations WHERE id = ?`), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", id, err)
	}
	return cloneMessages(msgs), nil
}

func (s *SQLStore) Save(ctx context.Context, id string, msgs []Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	q := `INSERT INTO conversations (id, messages, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at`
	if s.dialect == "mysql" {
		q = `INSERT INTO conversations (id, messages, updated_at) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE messages = VALUES(messages), updated_at = VALUES(updated_at)`
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(q), id, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM conversations WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

package coordinator

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_AppendCapsOldestFirst(t *testing.T) {
	conv := &Conversation{ID: "c", MaxHistory: 3}
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := range 8 {
		conv.Append(RoleUser, string(rune('a'+i)), at)
	}
	require.Len(t, conv.Messages, 6)
	assert.Equal(t, "c", conv.Messages[0].Content)
	assert.Equal(t, "h", conv.Messages[5].Content)

	assert.Len(t, conv.Recent(2), 2)
	assert.Equal(t, "g", conv.Recent(2)[0].Content)
	assert.Len(t, conv.Recent(10), 6)
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	sqlStore, err := NewSQLStore(ctx, db, "sqlite")
	require.NoError(t, err)

	stores := map[string]ConversationStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			msgs, err := s.Load(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, msgs)

			in := []Message{
				{Role: RoleUser, Content: "贵州茅台2023年营收", Timestamp: at},
				{Role: RoleAssistant, Content: "1505.6亿元", Timestamp: at},
			}
			require.NoError(t, s.Save(ctx, "c1", in))
			require.NoError(t, s.Save(ctx, "c1", in[:1]))

			out, err := s.Load(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, in[0].Content, out[0].Content)
			assert.True(t, in[0].Timestamp.Equal(out[0].Timestamp))

			require.NoError(t, s.Delete(ctx, "c1"))
			require.NoError(t, s.Delete(ctx, "c1"))
			out, err = s.Load(ctx, "c1")
			require.NoError(t, err)
			assert.Nil(t, out)
		})
	}
}

func TestNewSQLStore_Validation(t *testing.T) {
	_, err := NewSQLStore(context.Background(), nil, "sqlite")
	require.Error(t, err)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = NewSQLStore(context.Background(), db, "oracle")
	require.ErrorContains(t, err, "unsupported dialect")
}

func TestSQLStore_RebindPostgres(t *testing.T) {
	s := &SQLStore{dialect: "postgres"}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", s.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	s.dialect = "mysql"
	assert.Equal(t, "x = ?", s.rebind("x = ?"))
}

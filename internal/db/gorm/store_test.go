package gorm

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func testStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Ping())

	var journalMode string
	require.NoError(t, store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "wal", journalMode)

	var foreignKeys int
	require.NoError(t, store.DB.Raw("PRAGMA foreign_keys").Scan(&foreignKeys).Error)
	assert.Equal(t, 1, foreignKeys)

	for _, table := range []string{"sessions", "messages", "code_blocks", "users"} {
		assert.True(t, store.DB.Migrator().HasTable(table), "table %q does not exist", table)
	}
	assert.True(t, store.DB.Migrator().HasIndex(&Message{}, "idx_messages_session_seq"))
}

func TestMigrationIdempotency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	cfg := Config{Path: path, LogLevel: logger.Silent}

	store1, err := NewStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store1.Close())

	store2, err := NewStore(cfg)
	require.NoError(t, err)
	defer store2.Close()

	var migrations int64
	require.NoError(t, store2.DB.Table("migrations").Count(&migrations).Error)
	assert.Equal(t, int64(3), migrations)
}

func TestConfigIsPostgres(t *testing.T) {
	assert.False(t, Config{Path: "x.db"}.IsPostgres())
	assert.False(t, Config{DatabaseURL: "  "}.IsPostgres())
	assert.True(t, Config{DatabaseURL: "postgres://localhost/clidesk"}.IsPostgres())
}

func TestNextUpdatedAt(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	next := nextUpdatedAt(past)
	assert.True(t, next.After(past))
	assert.WithinDuration(t, time.Now(), next, time.Second)

	future := time.Now().Add(time.Hour).UTC()
	next = nextUpdatedAt(future)
	assert.True(t, next.After(future))
	assert.Equal(t, timestampPrecision, next.Sub(future.Truncate(timestampPrecision)))
}

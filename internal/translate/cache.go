package translate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"overdub/internal/sqlitestore"
)

// Key identifies one memoized translation.
type Key struct {
	Text   string
	Source string
	Target string
}

// Cache memoizes translations. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key Key) (string, bool, error)
	Put(ctx context.Context, key Key, value string) error
	Close() error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[Key]string
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[Key]string)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key Key) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.entries[key]
	return value, ok, nil
}

// Put implements Cache. The first value stored for a key wins.
func (c *MemoryCache) Put(_ context.Context, key Key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.entries[key] = value
	}
	return nil
}

// Len reports the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close implements Cache.
func (c *MemoryCache) Close() error { return nil }

const cacheSchemaVersion = 1

const cacheSchema = `
CREATE TABLE translations (
    source_lang TEXT NOT NULL,
    target_lang TEXT NOT NULL,
    source_text TEXT NOT NULL,
    translated  TEXT NOT NULL,
    model       TEXT,
    created_at  TEXT NOT NULL,
    PRIMARY KEY (source_lang, target_lang, source_text)
);`

// SQLiteCache persists translations across runs.
type SQLiteCache struct {
	db    *sql.DB
	model string
}

// OpenSQLiteCache opens or creates the translation cache at path. model is
// recorded alongside each entry for diagnostics.
func OpenSQLiteCache(ctx context.Context, path, model string) (*SQLiteCache, error) {
	db, err := sqlitestore.Open(ctx, path, cacheSchema, cacheSchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("open translation cache: %w", err)
	}
	return &SQLiteCache{db: db, model: strings.TrimSpace(model)}, nil
}

// Get implements Cache.
func (c *SQLiteCache) Get(ctx context.Context, key Key) (string, bool, error) {
	var value string
	err := sqlitestore.RetryOnBusy(ctx, func() error {
		return c.db.QueryRowContext(ctx,
			`SELECT translated FROM translations WHERE source_lang = ? AND target_lang = ? AND source_text = ?`,
			key.Source, key.Target, key.Text,
		).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}
	return value, true, nil
}

// Put implements Cache. Existing entries are never overwritten.
func (c *SQLiteCache) Put(ctx context.Context, key Key, value string) error {
	err := sqlitestore.Exec(ctx, c.db,
		`INSERT OR IGNORE INTO translations (source_lang, target_lang, source_text, translated, model, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		key.Source, key.Target, key.Text, value, c.model, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Close implements Cache.
func (c *SQLiteCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteCache хранит снимки индекса в файле SQLite.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache открывает (или создаёт) файл кэша.
func NewSQLiteCache(ctx context.Context, path string) (*SQLiteCache, error) {
	if path == "" {
		return nil, errors.New("sqlite cache path is empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	c := &SQLiteCache{db: db}
	if err := c.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCache) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS index_snapshots (
		hash TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME NOT NULL
	);`
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("migrate sqlite cache: %w", err)
	}
	return nil
}

// Get возвращает снимок или ErrCacheMiss.
func (c *SQLiteCache) Get(ctx context.Context, hash string) (*Snapshot, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx, `SELECT payload FROM index_snapshots WHERE hash = ?`, hash).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Put сохраняет снимок, заменяя прежний с тем же хешем.
func (c *SQLiteCache) Put(ctx context.Context, snap *Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO index_snapshots (hash, model, payload, created_at) VALUES (?, ?, ?, ?)`,
		snap.Hash, snap.Model, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Close закрывает базу.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

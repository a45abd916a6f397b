package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const (
	sqliteCreateTable = `CREATE TABLE IF NOT EXISTS kv (key TEXT PRIMARY KEY, value BLOB NOT NULL)`
	sqliteSelect      = `SELECT value FROM kv WHERE key = ?`
	sqliteUpsert      = `INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	sqliteDelete      = `DELETE FROM kv WHERE key = ?`
)

// SQLiteKeyValueHolder keeps values in a single `kv` table of a SQLite database file.
type SQLiteKeyValueHolder struct { // Implements KeyValueHolder.
	db *sql.DB
}

var _ KeyValueHolder = (*SQLiteKeyValueHolder)(nil)

// NewSQLiteKeyValueHolder opens (or creates) the database at `path` and makes sure the table exists.
func NewSQLiteKeyValueHolder(ctx context.Context, path string) (*SQLiteKeyValueHolder, error) {
	if path == "" {
		return nil, errors.New("expected a non-empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite serializes writers anyway.
	if _, err := db.ExecContext(ctx, sqliteCreateTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}
	return &SQLiteKeyValueHolder{db: db}, nil
}

func (s *SQLiteKeyValueHolder) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, sqliteSelect, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select key %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteKeyValueHolder) Set(ctx context.Context, key string, value []byte) error {
	if value == nil { // The column is NOT NULL.
		value = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsert, key, value); err != nil {
		return fmt.Errorf("failed to upsert key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKeyValueHolder) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, sqliteDelete, key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteKeyValueHolder) Close() error {
	return s.db.Close()
}

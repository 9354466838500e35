package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"kiln/internal/errors"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS results (
	key   BLOB PRIMARY KEY,
	entry BLOB
)`

// SQLiteStore keeps result entries in a single SQLite database file, which
// several workspaces can share.
type SQLiteStore struct {
	sqlDB *sql.DB
	path  string
}

// OpenSQLiteStore opens or creates the database file at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.ValidationError("sqlite store path is required", nil)
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, errors.StoreIO("creating result store directory", err)
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.StoreIO("opening sqlite db", err)
	}
	// one connection per process; other processes wait on busy_timeout
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, errors.StoreIO("pinging sqlite db", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, errors.StoreIO("creating results table", err)
	}
	return &SQLiteStore{sqlDB: sqlDB, path: cleanPath}, nil
}

func (s *SQLiteStore) Has(ctx context.Context, key Key) (bool, error) {
	if err := checkContext(ctx, "has", key); err != nil {
		return false, err
	}

	var one int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM results WHERE key = ?`, key[:]).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.StoreIO(fmt.Sprintf("checking %s", key), err)
	}
	return true, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	if err := checkContext(ctx, "get", key); err != nil {
		return nil, false, err
	}

	var entry []byte
	err := s.sqlDB.QueryRowContext(ctx, `SELECT entry FROM results WHERE key = ?`, key[:]).Scan(&entry)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.StoreIO(fmt.Sprintf("reading %s", key), err)
	}
	return entry, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key Key, entry []byte) error {
	if err := checkContext(ctx, "put", key); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO results (key, entry) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET entry = excluded.entry`,
		key[:], entry,
	)
	if err != nil {
		return errors.StoreIO(fmt.Sprintf("writing %s", key), err)
	}
	return nil
}

func (s *SQLiteStore) Describe() string {
	return "sqlite:" + s.path
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

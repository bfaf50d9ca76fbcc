//go:build sqlite
// +build sqlite

package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "sheetwatch/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS watermark (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS delivery (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at TEXT NOT NULL,
	row_index INTEGER NOT NULL,
	chat_id INTEGER NOT NULL,
	text_len INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_delivery_row ON delivery(row_index);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (int64, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, ErrDisabled
	}
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM watermark WHERE id = 1`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if v < 0 {
		return 0, false, fmt.Errorf("sqlite state: negative watermark %d", v)
	}
	return v, true, nil
}

func (s *sqliteStore) Save(ctx context.Context, watermark int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if watermark < 0 {
		return fmt.Errorf("watermark must be >= 0, got %d", watermark)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermark(id, value, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		watermark, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, rec DeliveryRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery(at, row_index, chat_id, text_len) VALUES(?,?,?,?)`,
		rec.At.Format(time.RFC3339Nano), rec.RowIndex, rec.ChatID, rec.TextLen,
	)
	return err
}

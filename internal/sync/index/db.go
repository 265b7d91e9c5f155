package index

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db}
	if err := instance.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return instance, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sync_pairs (
	id TEXT PRIMARY KEY,
	local_root TEXT NOT NULL,
	remote_root_id TEXT NOT NULL,
	remote_root_path TEXT NOT NULL DEFAULT '',
	strategy TEXT NOT NULL DEFAULT '',
	mode TEXT NOT NULL DEFAULT '',
	exclude_patterns TEXT,
	created_at INTEGER NOT NULL,
	last_run_at INTEGER NOT NULL DEFAULT 0,
	last_state TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tracked_records (
	pair_id TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	remote_id TEXT NOT NULL DEFAULT '',
	is_dir INTEGER NOT NULL DEFAULT 0,
	size INTEGER NOT NULL DEFAULT 0,
	local_mtime INTEGER NOT NULL DEFAULT 0,
	remote_mtime INTEGER NOT NULL DEFAULT 0,
	local_hash TEXT NOT NULL DEFAULT '',
	remote_hash TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	last_sync_time INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (pair_id, relative_path)
);

CREATE INDEX IF NOT EXISTS idx_tracked_remote_id ON tracked_records(pair_id, remote_id);

CREATE TABLE IF NOT EXISTS sync_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	pair_id TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	action TEXT NOT NULL,
	path TEXT NOT NULL,
	success INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	bytes_transferred INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sync_log_pair ON sync_log(pair_id, id);
`

// Timestamps are stored as Unix milliseconds; 0 means unset.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

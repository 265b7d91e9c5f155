package index

import (
	"context"
	"time"
)

// AppendLog writes one audit row. Rows are never updated.
func (d *DB) AppendLog(ctx context.Context, entry LogEntry) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sync_log (pair_id, timestamp, action, path, success, error, bytes_transferred, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.PairID, toMillis(entry.Timestamp), entry.Action, entry.Path, boolToInt(entry.Success),
		entry.Error, entry.BytesTransferred, entry.Duration.Milliseconds())
	return err
}

// ListLog returns the newest entries first. A limit of 0 returns everything.
func (d *DB) ListLog(ctx context.Context, pairID string, limit int) (entries []LogEntry, err error) {
	query := `
		SELECT id, pair_id, timestamp, action, path, success, error, bytes_transferred, duration_ms
		FROM sync_log WHERE pair_id = ? ORDER BY id DESC`
	args := []interface{}{pairID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var e LogEntry
		var ts, durationMs int64
		var success int
		if err := rows.Scan(&e.ID, &e.PairID, &ts, &e.Action, &e.Path, &success, &e.Error, &e.BytesTransferred, &durationMs); err != nil {
			return nil, err
		}
		e.Timestamp = fromMillis(ts)
		e.Success = success != 0
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

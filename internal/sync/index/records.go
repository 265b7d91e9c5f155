package index

import (
	"context"
	"database/sql"
)

const recordColumns = `pair_id, relative_path, remote_id, is_dir, size, local_mtime, remote_mtime,
	local_hash, remote_hash, status, last_sync_time`

func (d *DB) ListRecords(ctx context.Context, pairID string) (records []Record, err error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM tracked_records WHERE pair_id = ? ORDER BY relative_path
	`, pairID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// GetRecord returns nil without error when the path is not tracked.
func (d *DB) GetRecord(ctx context.Context, pairID, relPath string) (*Record, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM tracked_records WHERE pair_id = ? AND relative_path = ?
	`, pairID, relPath)
	record, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (d *DB) UpsertRecord(ctx context.Context, record Record) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO tracked_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_id, relative_path) DO UPDATE SET
			remote_id=excluded.remote_id,
			is_dir=excluded.is_dir,
			size=excluded.size,
			local_mtime=excluded.local_mtime,
			remote_mtime=excluded.remote_mtime,
			local_hash=excluded.local_hash,
			remote_hash=excluded.remote_hash,
			status=excluded.status,
			last_sync_time=excluded.last_sync_time
	`, record.PairID, record.RelativePath, record.RemoteID, boolToInt(record.IsDir), record.Size,
		toMillis(record.LocalMTime), toMillis(record.RemoteMTime), record.LocalHash, record.RemoteHash,
		string(record.Status), toMillis(record.LastSyncTime))
	return err
}

// DeleteRecord removes the record for relPath and every record below it.
func (d *DB) DeleteRecord(ctx context.Context, pairID, relPath string) error {
	prefix := relPath + "/"
	_, err := d.db.ExecContext(ctx, `
		DELETE FROM tracked_records
		WHERE pair_id = ? AND (relative_path = ? OR substr(relative_path, 1, ?) = ?)
	`, pairID, relPath, len(prefix), prefix)
	return err
}

// ReplaceRecords swaps the full record set of a pair in one transaction.
func (d *DB) ReplaceRecords(ctx context.Context, pairID string, records []Record) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM tracked_records WHERE pair_id = ?`, pairID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracked_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx, pairID, r.RelativePath, r.RemoteID, boolToInt(r.IsDir), r.Size,
			toMillis(r.LocalMTime), toMillis(r.RemoteMTime), r.LocalHash, r.RemoteHash, string(r.Status), toMillis(r.LastSyncTime))
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func scanRecord(scanner interface {
	Scan(dest ...interface{}) error
}) (Record, error) {
	var record Record
	var isDir int
	var status string
	var localMTime, remoteMTime, lastSync int64
	err := scanner.Scan(&record.PairID, &record.RelativePath, &record.RemoteID, &isDir, &record.Size,
		&localMTime, &remoteMTime, &record.LocalHash, &record.RemoteHash, &status, &lastSync)
	if err != nil {
		return Record{}, err
	}
	record.IsDir = isDir != 0
	record.Status = RecordStatus(status)
	record.LocalMTime = fromMillis(localMTime)
	record.RemoteMTime = fromMillis(remoteMTime)
	record.LastSyncTime = fromMillis(lastSync)
	return record, nil
}

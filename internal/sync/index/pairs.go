package index

import (
	"context"
	"database/sql"
	"encoding/json"
)

const pairColumns = `id, local_root, remote_root_id, remote_root_path, strategy, mode, exclude_patterns,
	created_at, last_run_at, last_state`

func (d *DB) UpsertPair(ctx context.Context, pair Pair) error {
	patterns, err := json.Marshal(pair.Exclude)
	if err != nil {
		return err
	}

	_, err = d.db.ExecContext(ctx, `
		INSERT INTO sync_pairs (`+pairColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_root=excluded.local_root,
			remote_root_id=excluded.remote_root_id,
			remote_root_path=excluded.remote_root_path,
			strategy=excluded.strategy,
			mode=excluded.mode,
			exclude_patterns=excluded.exclude_patterns,
			last_run_at=excluded.last_run_at,
			last_state=excluded.last_state
	`, pair.ID, pair.LocalRoot, pair.RemoteRootID, pair.RemoteRootPath, pair.Strategy, pair.Mode, string(patterns),
		toMillis(pair.CreatedAt), toMillis(pair.LastRunAt), pair.LastState)
	return err
}

// GetPair returns nil without error when no pair has the given id.
func (d *DB) GetPair(ctx context.Context, id string) (*Pair, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+pairColumns+` FROM sync_pairs WHERE id = ?`, id)
	pair, err := scanPair(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &pair, nil
}

func (d *DB) ListPairs(ctx context.Context) (pairs []Pair, err error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+pairColumns+` FROM sync_pairs ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// DeletePair removes the pair with its tracked records and log.
func (d *DB) DeletePair(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM tracked_records WHERE pair_id = ?`,
		`DELETE FROM sync_log WHERE pair_id = ?`,
		`DELETE FROM sync_pairs WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func scanPair(scanner interface {
	Scan(dest ...interface{}) error
}) (Pair, error) {
	var pair Pair
	var patterns sql.NullString
	var createdAt, lastRunAt int64
	err := scanner.Scan(&pair.ID, &pair.LocalRoot, &pair.RemoteRootID, &pair.RemoteRootPath, &pair.Strategy, &pair.Mode,
		&patterns, &createdAt, &lastRunAt, &pair.LastState)
	if err != nil {
		return Pair{}, err
	}
	if patterns.Valid && patterns.String != "" {
		_ = json.Unmarshal([]byte(patterns.String), &pair.Exclude)
	}
	pair.CreatedAt = fromMillis(createdAt)
	pair.LastRunAt = fromMillis(lastRunAt)
	return pair, nil
}

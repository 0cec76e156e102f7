package storage

import (
	"database/sql"
	"time"

	"tangle/internal/duplicates"
)

// ReplaceBaseline swaps the stored baseline for entries in one transaction.
func (db *DB) ReplaceBaseline(entries []duplicates.BaselineEntry) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return db.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM baseline_blocks`); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`
			INSERT INTO baseline_blocks (
				block_id, version, tolerance, hash, normalized, path, start_line, end_line, registered_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.Exec(e.ID, e.Version, e.Tolerance, e.Hash, e.Normalized,
				e.Path, e.StartLine, e.EndLine, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// BaselineEntries returns every stored entry ordered by id and version.
func (db *DB) BaselineEntries() ([]duplicates.BaselineEntry, error) {
	rows, err := db.Query(`
		SELECT block_id, version, tolerance, hash, normalized,
			COALESCE(path, ''), COALESCE(start_line, 0), COALESCE(end_line, 0)
		FROM baseline_blocks
		ORDER BY block_id, version
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []duplicates.BaselineEntry
	for rows.Next() {
		var e duplicates.BaselineEntry
		if err := rows.Scan(&e.ID, &e.Version, &e.Tolerance, &e.Hash, &e.Normalized,
			&e.Path, &e.StartLine, &e.EndLine); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

package storage

import (
	"database/sql"
	"time"

	"tangle/internal/hotspots"
)

// timeLayout has fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is the metadata of one recorded analysis.
type Run struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Root      string    `json:"root"`
	Files     int       `json:"files"`
	Passed    bool      `json:"passed"`
}

// RecordRun stores a run and the score snapshots it produced.
func (db *DB) RecordRun(run Run, snapshots []hotspots.Snapshot) error {
	return db.WithTx(func(tx *sql.Tx) error {
		passed := 0
		if run.Passed {
			passed = 1
		}
		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO runs (run_id, started_at, root, files, passed)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, run.StartedAt.UTC().Format(timeLayout), run.Root, run.Files, passed); err != nil {
			return err
		}

		stmt, err := tx.Prepare(`
			INSERT INTO score_snapshots (
				run_id, path, taken_at, score, severity, complexity, indirection,
				context_switches, lines, fan_in, fan_out, instability
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, s := range snapshots {
			if _, err := stmt.Exec(
				s.RunID, s.Path, s.TakenAt.UTC().Format(timeLayout), s.Score, s.Severity,
				s.Complexity, s.Indirection, s.ContextSwitches, s.Lines, s.FanIn, s.FanOut, s.Instability,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// SnapshotsFor returns the most recent snapshots of path, oldest first.
// limit <= 0 returns all of them.
func (db *DB) SnapshotsFor(path string, limit int) ([]hotspots.Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, run_id, path, taken_at, score, severity, complexity, indirection,
			context_switches, lines, fan_in, fan_out, instability
		FROM (
			SELECT * FROM score_snapshots
			WHERE path = ?
			ORDER BY taken_at DESC, id DESC
			LIMIT ?
		)
		ORDER BY taken_at ASC, id ASC
	`, path, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []hotspots.Snapshot
	for rows.Next() {
		var s hotspots.Snapshot
		var takenAt string
		if err := rows.Scan(&s.ID, &s.RunID, &s.Path, &takenAt, &s.Score, &s.Severity,
			&s.Complexity, &s.Indirection, &s.ContextSwitches, &s.Lines,
			&s.FanIn, &s.FanOut, &s.Instability); err != nil {
			return nil, err
		}
		s.TakenAt, _ = time.Parse(timeLayout, takenAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Runs returns recorded runs, newest first.
func (db *DB) Runs(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT run_id, started_at, root, files, passed
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var startedAt string
		var passed int
		if err := rows.Scan(&r.ID, &startedAt, &r.Root, &r.Files, &passed); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(timeLayout, startedAt)
		r.Passed = passed == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// CleanupOldSnapshots removes snapshots older than the retention period
func (db *DB) CleanupOldSnapshots(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	result, err := db.Exec(`DELETE FROM score_snapshots WHERE taken_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SnapshotStats returns summary statistics for the snapshot table
func (db *DB) SnapshotStats() (totalRecords int64, oldestRecord, newestRecord *time.Time, err error) {
	var oldestStr, newestStr sql.NullString
	err = db.QueryRow(`
		SELECT
			COUNT(*),
			MIN(taken_at),
			MAX(taken_at)
		FROM score_snapshots
	`).Scan(&totalRecords, &oldestStr, &newestStr)
	if err == sql.ErrNoRows {
		return 0, nil, nil, nil
	}
	if err != nil {
		return 0, nil, nil, err
	}

	if oldestStr.Valid {
		if t, parseErr := time.Parse(timeLayout, oldestStr.String); parseErr == nil {
			oldestRecord = &t
		}
	}
	if newestStr.Valid {
		if t, parseErr := time.Parse(timeLayout, newestStr.String); parseErr == nil {
			newestRecord = &t
		}
	}
	return
}

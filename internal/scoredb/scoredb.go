// Package scoredb keeps a queryable SQLite mirror of every score
// record. The text ledgers under results/scores remain the canonical
// store; the mirror exists so selection queries (top-N, score ranges)
// don't have to re-parse ledger files.
package scoredb

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Record is one mirrored score row.
type Record struct {
	Target string
	Name   string
	Score  float64
}

// Init opens (and if necessary creates) the score database at path.
func Init(path string) (*sql.DB, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open score database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := getUserVersion(db)
	if err != nil {
		return err
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS scores (
		  target      TEXT NOT NULL,
		  name        TEXT NOT NULL,
		  score       REAL NOT NULL,
		  recorded_at INTEGER NOT NULL,
		  PRIMARY KEY (target, name)
		);

		CREATE INDEX IF NOT EXISTS idx_scores_target_score
		ON scores(target, score);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := setUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

func getUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

func setUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

// Upsert records one score. Replaying the same (target, name) pair is
// harmless, which keeps the mirror idempotent across resumed runs.
func Upsert(db *sql.DB, rec Record, recordedAt int64) error {
	_, err := db.Exec(`
		INSERT INTO scores (target, name, score, recorded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (target, name) DO UPDATE SET
		  score = excluded.score,
		  recorded_at = excluded.recorded_at`,
		rec.Target, rec.Name, rec.Score, recordedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert score: %w", err)
	}
	return nil
}

// TopN returns the target's n best (lowest-score) records.
func TopN(db *sql.DB, target string, n int) ([]Record, error) {
	rows, err := db.Query(`
		SELECT target, name, score FROM scores
		WHERE target = ?
		ORDER BY score ASC, name ASC
		LIMIT ?`, target, n)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// ScoreRange returns the target's records with min <= score <= max,
// best first.
func ScoreRange(db *sql.DB, target string, min, max float64) ([]Record, error) {
	rows, err := db.Query(`
		SELECT target, name, score FROM scores
		WHERE target = ? AND score BETWEEN ? AND ?
		ORDER BY score ASC, name ASC`, target, min, max)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// Count returns how many records the mirror holds for target. An
// empty target string counts all records.
func Count(db *sql.DB, target string) (int, error) {
	var n int
	var err error
	if target == "" {
		err = db.QueryRow("SELECT COUNT(*) FROM scores").Scan(&n)
	} else {
		err = db.QueryRow("SELECT COUNT(*) FROM scores WHERE target = ?", target).Scan(&n)
	}
	return n, err
}

func collect(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Target, &r.Name, &r.Score); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

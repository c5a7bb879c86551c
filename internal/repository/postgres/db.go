package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Connect opens a connection pool to the PostgreSQL database.
func Connect(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// InitSchema creates the tables if they do not exist.
func InitSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS solve_runs (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	label       TEXT NOT NULL DEFAULT '',
	input_hash  TEXT NOT NULL,
	alpha       DOUBLE PRECISION NOT NULL DEFAULT 0,
	k           INTEGER NOT NULL DEFAULT 0,
	objective   DOUBLE PRECISION NOT NULL,
	result      JSONB NOT NULL,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS solve_runs_kind_idx ON solve_runs (kind, created_at DESC);
CREATE INDEX IF NOT EXISTS solve_runs_hash_idx ON solve_runs (input_hash);

CREATE TABLE IF NOT EXISTS marginal_artifacts (
	run_id     UUID PRIMARY KEY REFERENCES solve_runs (id) ON DELETE CASCADE,
	resources  INTEGER NOT NULL,
	targets    INTEGER NOT NULL,
	matrix     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

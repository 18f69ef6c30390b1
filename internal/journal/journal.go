// Package journal records every merge request and its outcome in Postgres.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"example.com/pdf-fusion/pkg/postgres"
)

// Job is one finished merge request. ID is generated per job; RequestID is
// the caller-visible request id and may repeat when a client retries.
type Job struct {
	ID        string
	RequestID string
	Title    string
	Outcome  string // apperrors.Kind of the result
	Error    string
	Pages    int
	Bytes    int64
	Cached   bool
	Started  time.Time
	Duration time.Duration
	Sources  []Source
}

// Source is one source of a Job. Offset is -1 when the source was never
// merged.
type Source struct {
	Index    int
	Supplier string
	URL      string
	Offset   int
}

// Recorder stores jobs.
type Recorder interface {
	Record(ctx context.Context, job Job) error
}

const schema = `
CREATE TABLE IF NOT EXISTS merge_jobs (
	id          TEXT PRIMARY KEY,
	request_id  TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	pages       INTEGER NOT NULL DEFAULT 0,
	bytes       BIGINT NOT NULL DEFAULT 0,
	cached      BOOLEAN NOT NULL DEFAULT FALSE,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS merge_job_sources (
	job_id      TEXT NOT NULL REFERENCES merge_jobs(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	supplier    TEXT NOT NULL,
	url         TEXT NOT NULL,
	page_offset INTEGER NOT NULL,
	PRIMARY KEY (job_id, position)
);
ALTER TABLE merge_jobs ADD COLUMN IF NOT EXISTS request_id TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS merge_jobs_request_id_idx ON merge_jobs (request_id);`

// Postgres is a Recorder backed by the merge_jobs tables.
type Postgres struct {
	client *postgres.Client
}

// NewPostgres creates the journal tables if needed.
func NewPostgres(ctx context.Context, client *postgres.Client) (*Postgres, error) {
	if _, err := client.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	return &Postgres{client: client}, nil
}

// Record inserts job and its sources in one transaction.
func (p *Postgres) Record(ctx context.Context, job Job) error {
	return p.client.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO merge_jobs (id, request_id, title, outcome, error, pages, bytes, cached, started_at, duration_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			job.ID, job.RequestID, job.Title, job.Outcome, job.Error, job.Pages, job.Bytes, job.Cached,
			job.Started.UTC(), job.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("inserting merge job: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO merge_job_sources (job_id, position, supplier, url, page_offset)
			 VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return fmt.Errorf("preparing source insert: %w", err)
		}
		defer stmt.Close()
		for _, s := range job.Sources {
			if _, err := stmt.ExecContext(ctx, job.ID, s.Index, s.Supplier, s.URL, s.Offset); err != nil {
				return fmt.Errorf("inserting source %d: %w", s.Index, err)
			}
		}
		return nil
	})
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/editflow/internal/domain"
	"github.com/dunamismax/editflow/internal/id"
	_ "github.com/lib/pq"
)

const jobSchemaSQL = `
CREATE TABLE IF NOT EXISTS edit_jobs (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	prediction_id TEXT NOT NULL DEFAULT '',
	input JSONB NOT NULL,
	output_url TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS edit_jobs_created_at_idx ON edit_jobs (created_at DESC);
`

const jobColumns = `id, type, status, prediction_id, input, output_url, error, created_at, started_at, finished_at`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchemaSQL); err != nil {
		return fmt.Errorf("ensure edit_jobs schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, jobType domain.JobType, input map[string]any) (domain.Job, error) {
	job := domain.NewJob(id.New(), jobType, input, time.Now())
	inputJSON, err := json.Marshal(job.Input)
	if err != nil {
		return domain.Job{}, fmt.Errorf("marshal job input: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO edit_jobs (id, type, status, input, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		job.ID,
		job.Type,
		job.Status,
		inputJSON,
		job.CreatedAt,
	)
	if err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return job, nil
}

func (s *PostgresJobStore) Update(ctx context.Context, jobID string, patch domain.JobPatch) (domain.Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, ok, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM edit_jobs WHERE id = $1 FOR UPDATE`, jobID))
	if err != nil || !ok {
		return domain.Job{}, false, err
	}

	updated, changed := job.Apply(patch)
	if !changed {
		return updated, true, nil
	}

	_, err = tx.ExecContext(
		ctx,
		`UPDATE edit_jobs
		 SET status = $1, prediction_id = $2, output_url = $3, error = $4, started_at = $5, finished_at = $6
		 WHERE id = $7`,
		updated.Status,
		updated.PredictionID,
		updated.OutputURL,
		updated.Error,
		nullTime(updated.StartedAt),
		nullTime(updated.FinishedAt),
		jobID,
	)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, false, fmt.Errorf("commit update: %w", err)
	}

	return updated, true, nil
}

func (s *PostgresJobStore) Get(ctx context.Context, jobID string) (domain.Job, bool, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM edit_jobs WHERE id = $1`, jobID))
}

func (s *PostgresJobStore) List(ctx context.Context, limit int) ([]domain.Job, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM edit_jobs ORDER BY created_at DESC LIMIT $1`, clampLimit(limit))
}

func (s *PostgresJobStore) ListStuck(ctx context.Context, createdBefore time.Time) ([]domain.Job, error) {
	return s.query(
		ctx,
		`SELECT `+jobColumns+` FROM edit_jobs
		 WHERE status IN ($1, $2) AND created_at < $3
		 ORDER BY created_at`,
		domain.JobStatusQueued,
		domain.JobStatusProcessing,
		createdBefore,
	)
}

func (s *PostgresJobStore) Prune(ctx context.Context, finishedBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM edit_jobs WHERE status IN ($1, $2) AND finished_at < $3`,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
		finishedBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune jobs rows affected: %w", err)
	}
	return int(n), nil
}

func (s *PostgresJobStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edit_jobs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

func (s *PostgresJobStore) query(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, _, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, bool, error) {
	var (
		job        domain.Job
		inputJSON  []byte
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.Type,
		&job.Status,
		&job.PredictionID,
		&inputJSON,
		&job.OutputURL,
		&job.Error,
		&job.CreatedAt,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(inputJSON, &job.Input); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job input: %w", err)
	}
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time.UTC()
		job.FinishedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	return job, true, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

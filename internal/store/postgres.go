package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"itinerary-planner/internal/apperrors"
	"itinerary-planner/internal/models"
)

// Postgres wraps pgxpool for job persistence. Updates lock the row with SELECT ... FOR UPDATE.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const selectJob = `
	SELECT job_id, user_id, status, input, progress_log, result, error,
	       created_at, updated_at, started_at, completed_at, version
	FROM planner_jobs WHERE job_id = $1`

// Create inserts a job row; a duplicate id leaves the existing row untouched.
func (s *Postgres) Create(ctx context.Context, job models.Job) (models.Job, error) {
	job, err := prepareCreate(job, now())
	if err != nil {
		return models.Job{}, err
	}
	row, err := encodeRow(job)
	if err != nil {
		return models.Job{}, apperrors.Internal("encode job", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO planner_jobs (job_id, user_id, status, input, progress_log, result, error,
		                          created_at, updated_at, started_at, completed_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (job_id) DO NOTHING
	`, row.args()...)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Job{}, apperrors.AlreadyExists(resource, job.ID)
	}
	return job, nil
}

// Get fetches a job by id.
func (s *Postgres) Get(ctx context.Context, id string) (models.Job, error) {
	return scanJob(s.pool.QueryRow(ctx, selectJob, id), id)
}

// Update runs fn inside a transaction holding the row lock.
func (s *Postgres) Update(ctx context.Context, id string, fn Mutation) (models.Job, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	current, err := scanJob(tx.QueryRow(ctx, selectJob+" FOR UPDATE", id), id)
	if err != nil {
		return models.Job{}, err
	}
	next, changed, err := apply(current, fn, now())
	if err != nil {
		return models.Job{}, err
	}
	if !changed {
		return current, nil
	}

	row, err := encodeRow(next)
	if err != nil {
		return models.Job{}, apperrors.Internal("encode job", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE planner_jobs
		SET user_id = $2, status = $3, input = $4, progress_log = $5, result = $6, error = $7,
		    created_at = $8, updated_at = $9, started_at = $10, completed_at = $11, version = $12
		WHERE job_id = $1
	`, row.args()...)
	if err != nil {
		return models.Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit: %w", err)
	}
	return next, nil
}

type jobRow struct {
	job      models.Job
	input    []byte
	progress []byte
	result   []byte
}

func encodeRow(job models.Job) (jobRow, error) {
	r := jobRow{job: job}
	var err error
	if r.input, err = json.Marshal(job.Input); err != nil {
		return r, fmt.Errorf("marshal input: %w", err)
	}
	if r.progress, err = json.Marshal(job.Progress); err != nil {
		return r, fmt.Errorf("marshal progress: %w", err)
	}
	if job.Result != nil {
		if r.result, err = json.Marshal(job.Result); err != nil {
			return r, fmt.Errorf("marshal result: %w", err)
		}
	}
	return r, nil
}

func (r jobRow) args() []any {
	var result any
	if r.result != nil {
		result = r.result
	}
	j := r.job
	return []any{j.ID, j.UserID, string(j.Status), r.input, r.progress, result, j.Error,
		j.CreatedAt, j.UpdatedAt, j.StartedAt, j.CompletedAt, j.Version}
}

func scanJob(row pgx.Row, id string) (models.Job, error) {
	var (
		job                   models.Job
		status                string
		input, progress, res  []byte
		startedAt, completeAt *time.Time
	)
	err := row.Scan(&job.ID, &job.UserID, &status, &input, &progress, &res, &job.Error,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completeAt, &job.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, apperrors.NotFound(resource, id)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	job.Status = models.Status(status)
	if err := json.Unmarshal(input, &job.Input); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := json.Unmarshal(progress, &job.Progress); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal progress: %w", err)
	}
	if job.Progress == nil {
		job.Progress = []models.ProgressEntry{}
	}
	if len(res) > 0 {
		job.Result = &models.Result{}
		if err := json.Unmarshal(res, job.Result); err != nil {
			return models.Job{}, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	job.StartedAt = utcPtr(startedAt)
	job.CompletedAt = utcPtr(completeAt)
	return job, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ Store = (*Postgres)(nil)

// Package jobrepository checkpoints jobs and tasks in PostgreSQL
package jobrepository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"gitlab.com/encodefarm.net/internal/core/ports/primary"
	"gitlab.com/encodefarm.net/internal/core/ports/secondary"
	"gitlab.com/encodefarm.net/internal/domain"
	querybuilder "gitlab.com/encodefarm.net/internal/utils"
)

var _ secondary.JobRepository = (*JobRepository)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS %[1]s.jobs (
	id           UUID PRIMARY KEY,
	name         TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS %[1]s.tasks (
	job_id   UUID NOT NULL REFERENCES %[1]s.jobs(id) ON DELETE CASCADE,
	task_id  INTEGER NOT NULL,
	position INTEGER NOT NULL,
	kind     TEXT NOT NULL,
	codec    TEXT NOT NULL,
	state    TEXT NOT NULL,
	node_id  TEXT,
	payload  JSONB NOT NULL,
	PRIMARY KEY (job_id, task_id)
);`

// JobRepository implements the JobRepository interface with PostgreSQL
type JobRepository struct {
	db     *sqlx.DB
	schema string
	logger primary.Logger
}

// NewJobRepository creates a new PostgreSQL job repository
func NewJobRepository(db *sqlx.DB, logger primary.Logger) *JobRepository {
	return &JobRepository{
		db:     db,
		schema: "public",
		logger: logger,
	}
}

// Migrate creates the tables when they do not exist yet
func (r *JobRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf(schema, r.schema)); err != nil {
		return fmt.Errorf("failed to create job tables: %w", err)
	}
	return nil
}

type jobRow struct {
	ID          uuid.UUID    `db:"id"`
	Name        string       `db:"name"`
	CreatedAt   time.Time    `db:"created_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
}

type taskRow struct {
	JobID    uuid.UUID `db:"job_id"`
	TaskID   int       `db:"task_id"`
	Position int       `db:"position"`
	Payload  []byte    `db:"payload"`
}

// SaveJob upserts the job row and all of its task rows in one transaction
func (r *JobRepository) SaveJob(ctx context.Context, job *domain.Job) error {
	jobTbl := domain.GetJobTable()
	taskTbl := domain.GetTaskTable()

	var completedAt interface{}
	if job.CompletedAt != nil {
		completedAt = *job.CompletedAt
	}
	jobQuery, jobArgs, err := querybuilder.NewQueryBuilder(r.schema).
		Insert(jobTbl.ID, jobTbl.Name, jobTbl.CreatedAt, jobTbl.CompletedAt).
		Into(jobTbl.TableName()).
		Values(job.ID, job.Name, job.CreatedAt, completedAt).
		OnConflict(jobTbl.ID).
		SetExclude(jobTbl.Name, jobTbl.CompletedAt).
		Build()
	if err != nil {
		return err
	}

	taskBuilder := querybuilder.NewQueryBuilder(r.schema).
		Insert(taskTbl.JobID, taskTbl.TaskID, taskTbl.Position, taskTbl.Kind, taskTbl.Codec, taskTbl.State, taskTbl.NodeID, taskTbl.Payload).
		Into(taskTbl.TableName())
	for i, t := range job.Tasks {
		payload, err := json.Marshal(t)
		if err != nil {
			r.logger.Error("Failed to marshal task", "task", t.Key().String(), "error", err)
			return fmt.Errorf("failed to marshal task %s: %w", t.Key(), err)
		}
		var nodeID interface{}
		if t.NodeID != "" {
			nodeID = t.NodeID
		}
		taskBuilder.Values(job.ID, t.TaskID, i, string(t.Kind), string(t.Codec), string(t.State()), nodeID, payload)
	}
	taskQuery, taskArgs, err := taskBuilder.
		OnConflict(taskTbl.JobID, taskTbl.TaskID).
		SetExclude(taskTbl.Position, taskTbl.State, taskTbl.NodeID, taskTbl.Payload).
		Build()
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		r.logger.Error("Failed to begin transaction", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be ignored if the transaction is committed

	if _, err := tx.ExecContext(ctx, tx.Rebind(jobQuery), jobArgs...); err != nil {
		r.logger.Error("Failed to save job", "jobID", job.ID, "error", err)
		return fmt.Errorf("failed to save job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(taskQuery), taskArgs...); err != nil {
		r.logger.Error("Failed to save tasks", "jobID", job.ID, "error", err)
		return fmt.Errorf("failed to save tasks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error("Failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadJobs returns every stored job, oldest first, tasks in submission order
func (r *JobRepository) LoadJobs(ctx context.Context) ([]*domain.Job, error) {
	jobTbl := domain.GetJobTable()
	taskTbl := domain.GetTaskTable()

	jobQuery, jobArgs, err := querybuilder.NewQueryBuilder(r.schema).
		Select(jobTbl.ID, jobTbl.Name, jobTbl.CreatedAt, jobTbl.CompletedAt).
		From(jobTbl.TableName()).
		OrderBy(jobTbl.CreatedAt, true).
		Build()
	if err != nil {
		return nil, err
	}
	var jobRows []jobRow
	if err := r.db.SelectContext(ctx, &jobRows, r.db.Rebind(jobQuery), jobArgs...); err != nil {
		r.logger.Error("Failed to load jobs", "error", err)
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	if len(jobRows) == 0 {
		return nil, nil
	}

	taskQuery, taskArgs, err := querybuilder.NewQueryBuilder(r.schema).
		Select(taskTbl.JobID, taskTbl.TaskID, taskTbl.Position, taskTbl.Payload).
		From(taskTbl.TableName()).
		OrderBy(taskTbl.JobID, true).
		OrderBy(taskTbl.Position, true).
		Build()
	if err != nil {
		return nil, err
	}
	var taskRows []taskRow
	if err := r.db.SelectContext(ctx, &taskRows, r.db.Rebind(taskQuery), taskArgs...); err != nil {
		r.logger.Error("Failed to load tasks", "error", err)
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	return assemble(jobRows, taskRows)
}

// assemble groups task rows under their jobs
func assemble(jobRows []jobRow, taskRows []taskRow) ([]*domain.Job, error) {
	byID := make(map[uuid.UUID]*domain.Job, len(jobRows))
	jobs := make([]*domain.Job, 0, len(jobRows))
	for _, row := range jobRows {
		job := &domain.Job{ID: row.ID, Name: row.Name, CreatedAt: row.CreatedAt}
		if row.CompletedAt.Valid {
			t := row.CompletedAt.Time
			job.CompletedAt = &t
		}
		byID[row.ID] = job
		jobs = append(jobs, job)
	}

	for _, row := range taskRows {
		job, ok := byID[row.JobID]
		if !ok {
			continue
		}
		var t domain.Task
		if err := json.Unmarshal(row.Payload, &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task %s/%d: %w", row.JobID, row.TaskID, err)
		}
		t.JobID = row.JobID
		t.TaskID = row.TaskID
		job.Tasks = append(job.Tasks, &t)
	}
	return jobs, nil
}

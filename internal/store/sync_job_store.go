package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Sync job types.
const (
	SyncJobTypeContactReconcile = "contact_reconcile"
	SyncJobTypeWebhookEvent     = "webhook_event"
)

// Sync job statuses.
const (
	SyncJobStatusPending = "pending"
	SyncJobStatusRunning = "running"
	SyncJobStatusDone    = "done"
	SyncJobStatusFailed  = "failed"
	SyncJobStatusDead    = "dead"
)

// SyncJob is one unit of deferred reconciliation work.
type SyncJob struct {
	ID             string          `json:"id"`
	TeamID         string          `json:"team_id"`
	JobType        string          `json:"job_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	LastError      *string         `json:"last_error,omitempty"`
	LastErrorClass *string         `json:"last_error_class,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EnqueueSyncJobInput holds the fields accepted on job enqueue.
type EnqueueSyncJobInput struct {
	TeamID  string
	JobType string
	Payload json.RawMessage
}

// RecordSyncFailureInput describes the outcome of a failed job attempt.
type RecordSyncFailureInput struct {
	Error         string
	ErrorClass    string
	Retryable     bool
	Exhausted     bool
	NextAttemptAt *time.Time
}

// SyncJobStore provides the DB-backed reconciliation queue.
type SyncJobStore struct {
	db *sql.DB
}

const syncJobSelectColumns = `
	id,
	team_id,
	job_type,
	payload,
	status,
	attempts,
	next_attempt_at,
	last_error,
	last_error_class,
	started_at,
	created_at,
	updated_at
`

// NewSyncJobStore creates a new SyncJobStore.
func NewSyncJobStore(db *sql.DB) *SyncJobStore {
	return &SyncJobStore{db: db}
}

// Enqueue inserts a pending job. Enqueue is service-internal and takes an
// explicit team ID because it runs outside request contexts.
func (s *SyncJobStore) Enqueue(ctx context.Context, input EnqueueSyncJobInput) (*SyncJob, error) {
	teamID := strings.TrimSpace(input.TeamID)
	if teamID == "" {
		return nil, ErrNoTeam
	}
	if !isValidSyncJobType(input.JobType) {
		return nil, fmt.Errorf("invalid sync job type: %q", input.JobType)
	}

	payload := input.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	job, err := scanSyncJob(s.db.QueryRowContext(ctx, `
		INSERT INTO sync_jobs (team_id, job_type, payload)
		VALUES ($1, $2, $3)
		RETURNING `+syncJobSelectColumns, teamID, input.JobType, []byte(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue sync job: %w", err)
	}
	return &job, nil
}

// PickupDue claims up to limit due jobs across all teams, marking each
// running. Uses FOR UPDATE SKIP LOCKED so concurrent workers never claim
// the same job.
func (s *SyncJobStore) PickupDue(ctx context.Context, limit int, now time.Time) ([]SyncJob, error) {
	if limit <= 0 {
		limit = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH due AS (
			SELECT id
			FROM sync_jobs
			WHERE status IN ($1, $2)
			  AND next_attempt_at <= $3
			ORDER BY next_attempt_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $4
		)
		UPDATE sync_jobs
		SET status = $5,
			attempts = attempts + 1,
			started_at = $3,
			updated_at = NOW()
		FROM due
		WHERE sync_jobs.id = due.id
		RETURNING `+syncJobSelectColumns,
		SyncJobStatusPending, SyncJobStatusFailed, now.UTC(), limit, SyncJobStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to pick up sync jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]SyncJob, 0)
	for rows.Next() {
		job, scanErr := scanSyncJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan sync job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sync jobs: %w", err)
	}
	return jobs, nil
}

// MarkDone completes a job.
func (s *SyncJobStore) MarkDone(ctx context.Context, jobID string) (*SyncJob, error) {
	job, err := scanSyncJob(s.db.QueryRowContext(ctx, `
		UPDATE sync_jobs
		SET status = $2,
			last_error = NULL,
			last_error_class = NULL,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+syncJobSelectColumns, strings.TrimSpace(jobID), SyncJobStatusDone))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to mark sync job done: %w", err)
	}
	return &job, nil
}

// RecordFailure records a failed attempt. Retryable failures return to the
// failed state with a future next_attempt_at; terminal or exhausted
// failures go dead and are never picked up again.
func (s *SyncJobStore) RecordFailure(ctx context.Context, jobID string, input RecordSyncFailureInput) (*SyncJob, error) {
	status := SyncJobStatusFailed
	nextAttempt := time.Now().UTC()
	if input.NextAttemptAt != nil {
		nextAttempt = input.NextAttemptAt.UTC()
	}
	if !input.Retryable || input.Exhausted {
		status = SyncJobStatusDead
	}

	job, err := scanSyncJob(s.db.QueryRowContext(ctx, `
		UPDATE sync_jobs
		SET status = $2,
			next_attempt_at = $3,
			last_error = $4,
			last_error_class = $5,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+syncJobSelectColumns,
		strings.TrimSpace(jobID),
		status,
		nextAttempt,
		nullIfEmpty(input.Error),
		nullIfEmpty(input.ErrorClass)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to record sync job failure: %w", err)
	}
	return &job, nil
}

// CleanupStaleRuns resets jobs stuck in the running state past the run
// timeout, making them eligible for pickup again.
func (s *SyncJobStore) CleanupStaleRuns(ctx context.Context, runTimeout time.Duration, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-runTimeout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND started_at IS NOT NULL AND started_at < $3
	`, SyncJobStatusFailed, SyncJobStatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up stale sync runs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to inspect stale run cleanup: %w", err)
	}
	return rows, nil
}

// QueueDepth returns pending/failed counts per job type, for operational
// visibility.
func (s *SyncJobStore) QueueDepth(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_type, COUNT(*)
		FROM sync_jobs
		WHERE status = ANY($1)
		GROUP BY job_type
	`, pq.Array([]string{SyncJobStatusPending, SyncJobStatusFailed}))
	if err != nil {
		return nil, fmt.Errorf("failed to read sync queue depth: %w", err)
	}
	defer rows.Close()

	depth := make(map[string]int)
	for rows.Next() {
		var jobType string
		var count int
		if err := rows.Scan(&jobType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue depth row: %w", err)
		}
		depth[jobType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queue depth rows: %w", err)
	}
	return depth, nil
}

func nullIfEmpty(value string) sql.NullString {
	trimmed := strings.TrimSpace(value)
	return sql.NullString{String: trimmed, Valid: trimmed != ""}
}

func isValidSyncJobType(jobType string) bool {
	switch jobType {
	case SyncJobTypeContactReconcile, SyncJobTypeWebhookEvent:
		return true
	default:
		return false
	}
}

func scanSyncJob(scanner interface{ Scan(...any) error }) (SyncJob, error) {
	var (
		item           SyncJob
		payload        []byte
		lastError      sql.NullString
		lastErrorClass sql.NullString
		startedAt      sql.NullTime
	)
	err := scanner.Scan(
		&item.ID,
		&item.TeamID,
		&item.JobType,
		&payload,
		&item.Status,
		&item.Attempts,
		&item.NextAttemptAt,
		&lastError,
		&lastErrorClass,
		&startedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return item, err
	}

	if len(payload) > 0 {
		item.Payload = json.RawMessage(payload)
	} else {
		item.Payload = json.RawMessage("{}")
	}
	if lastError.Valid {
		item.LastError = &lastError.String
	}
	if lastErrorClass.Valid {
		item.LastErrorClass = &lastErrorClass.String
	}
	if startedAt.Valid {
		item.StartedAt = &startedAt.Time
	}
	return item, nil
}

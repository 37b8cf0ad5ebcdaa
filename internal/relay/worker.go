package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/stillwaterhq/stillwater/internal/store"
	"github.com/stillwaterhq/stillwater/internal/syncmetrics"
)

const (
	defaultWorkerPollInterval = 5 * time.Second
	defaultWorkerMaxPerPoll   = 50
	defaultWorkerRunTimeout   = 2 * time.Minute
)

// JobHandler processes one claimed sync job. The context is already
// scoped to the job's team.
type JobHandler func(ctx context.Context, job store.SyncJob) error

// WorkerConfig tunes the reconcile worker's polling loop.
type WorkerConfig struct {
	PollInterval time.Duration
	MaxPerPoll   int
	RunTimeout   time.Duration
}

// Worker drains the sync job queue: contact reconciliation and deferred
// webhook events. Jobs are claimed cross-team; each handler runs under a
// context scoped to the job's own team.
type Worker struct {
	Jobs     *store.SyncJobStore
	Handlers map[string]JobHandler
	Policy   RetryPolicy
	Config   WorkerConfig
	Now      func() time.Time
	Logf     func(string, ...any)
}

// NewWorker creates a Worker with defaults filled in.
func NewWorker(jobs *store.SyncJobStore, handlers map[string]JobHandler, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultWorkerPollInterval
	}
	if cfg.MaxPerPoll <= 0 {
		cfg.MaxPerPoll = defaultWorkerMaxPerPoll
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaultWorkerRunTimeout
	}

	return &Worker{
		Jobs:     jobs,
		Handlers: handlers,
		Policy:   DefaultRetryPolicy(),
		Config:   cfg,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Start polls until the context is canceled.
func (w *Worker) Start(ctx context.Context) {
	for {
		if _, err := w.RunOnce(ctx); err != nil && w.Logf != nil {
			w.Logf("reconcile worker run failed: %v", err)
		}
		if err := sleepWithContext(ctx, w.Config.PollInterval); err != nil {
			return
		}
	}
}

// RunOnce claims and executes one batch of due jobs. Returns the number
// of jobs claimed.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if w == nil || w.Jobs == nil {
		return 0, fmt.Errorf("reconcile worker is not configured")
	}

	now := w.now()
	if _, err := w.Jobs.CleanupStaleRuns(ctx, w.Config.RunTimeout, now); err != nil {
		return 0, err
	}

	dueJobs, err := w.Jobs.PickupDue(ctx, w.Config.MaxPerPoll, now)
	if err != nil {
		return 0, err
	}

	for _, job := range dueJobs {
		if execErr := w.executeJob(ctx, job); execErr != nil && w.Logf != nil {
			w.Logf("sync job %s (%s) failed: %v", job.ID, job.JobType, execErr)
		}
	}
	return len(dueJobs), nil
}

func (w *Worker) executeJob(ctx context.Context, job store.SyncJob) error {
	syncmetrics.RecordJobPicked(job.JobType)

	handler, ok := w.Handlers[job.JobType]
	if !ok {
		return w.recordFailure(ctx, job, &PermanentError{Err: fmt.Errorf("no handler for job type %q", job.JobType)})
	}

	runCtx, cancel := context.WithTimeout(store.ContextWithTeam(ctx, job.TeamID), w.Config.RunTimeout)
	defer cancel()

	started := w.now()
	if err := handler(runCtx, job); err != nil {
		return w.recordFailure(ctx, job, err)
	}
	syncmetrics.RecordJobCompleted(job.JobType, w.now().Sub(started))

	if _, err := w.Jobs.MarkDone(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to mark job done: %w", err)
	}
	return nil
}

func (w *Worker) recordFailure(ctx context.Context, job store.SyncJob, failure error) error {
	decision := w.Policy.Decide(job.JobType, job.Attempts, failure, w.now())
	syncmetrics.RecordJobFailure(job.JobType, decision.Retryable && !decision.Exhausted, decision.Exhausted)
	_, recordErr := w.Jobs.RecordFailure(ctx, job.ID, store.RecordSyncFailureInput{
		Error:         failure.Error(),
		ErrorClass:    decision.Class,
		Retryable:     decision.Retryable,
		Exhausted:     decision.Exhausted,
		NextAttemptAt: decision.NextAttemptAt,
	})
	if recordErr != nil {
		return fmt.Errorf("failed to record job failure: %w (original: %v)", recordErr, failure)
	}
	return failure
}

func (w *Worker) now() time.Time {
	if w.Now == nil {
		return time.Now().UTC()
	}
	return w.Now().UTC()
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

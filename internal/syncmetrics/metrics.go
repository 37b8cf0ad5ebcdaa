// Package syncmetrics tracks in-process counters for the sync job queue.
package syncmetrics

import (
	"strings"
	"sync"
	"time"
)

type JobMetrics struct {
	PickedTotal        int64 `json:"picked_total"`
	SuccessTotal       int64 `json:"success_total"`
	FailureTotal       int64 `json:"failure_total"`
	RetryTotal         int64 `json:"retry_total"`
	DeadLetterTotal    int64 `json:"dead_letter_total"`
	TotalLatencyMillis int64 `json:"total_latency_millis"`
}

type Snapshot struct {
	Jobs        map[string]JobMetrics `json:"jobs"`
	GeneratedAt time.Time             `json:"generated_at"`
}

type registry struct {
	mu   sync.RWMutex
	jobs map[string]*JobMetrics
}

var globalRegistry = newRegistry()

func newRegistry() *registry {
	return &registry{jobs: make(map[string]*JobMetrics)}
}

func ResetForTests() {
	globalRegistry = newRegistry()
}

func RecordJobPicked(jobType string) {
	globalRegistry.update(jobType, func(job *JobMetrics) {
		job.PickedTotal++
	})
}

func RecordJobCompleted(jobType string, latency time.Duration) {
	globalRegistry.update(jobType, func(job *JobMetrics) {
		job.SuccessTotal++
		if latency > 0 {
			job.TotalLatencyMillis += latency.Milliseconds()
		}
	})
}

func RecordJobFailure(jobType string, retryScheduled, deadLettered bool) {
	globalRegistry.update(jobType, func(job *JobMetrics) {
		job.FailureTotal++
		if retryScheduled {
			job.RetryTotal++
		}
		if deadLettered {
			job.DeadLetterTotal++
		}
	})
}

func SnapshotNow() Snapshot {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	snapshot := Snapshot{
		Jobs:        make(map[string]JobMetrics, len(globalRegistry.jobs)),
		GeneratedAt: time.Now().UTC(),
	}
	for key, metrics := range globalRegistry.jobs {
		snapshot.Jobs[key] = *metrics
	}
	return snapshot
}

func (r *registry) update(jobType string, fn func(*JobMetrics)) {
	key := normalizeKey(jobType)
	if key == "" {
		key = "unknown"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics, ok := r.jobs[key]
	if !ok {
		metrics = &JobMetrics{}
		r.jobs[key] = metrics
	}
	fn(metrics)
}

func normalizeKey(raw string) string {
	return strings.TrimSpace(strings.ToLower(raw))
}

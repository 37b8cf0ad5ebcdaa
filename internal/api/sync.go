package api

import (
	"net/http"

	"github.com/stillwaterhq/stillwater/internal/store"
	"github.com/stillwaterhq/stillwater/internal/syncmetrics"
)

// SyncHandler reports queue and worker state for the sync pipeline.
type SyncHandler struct {
	Jobs *store.SyncJobStore
}

type syncStatusResponse struct {
	Metrics    syncmetrics.Snapshot `json:"metrics"`
	QueueDepth map[string]int       `json:"queue_depth"`
}

// Status returns per-job-type counters and the current queue depth.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	depth, err := h.Jobs.QueueDepth(r.Context())
	if err != nil {
		sendJSON(w, storeErrorStatus(err), errorResponse{Error: storeErrorMessage(err, "sync status")})
		return
	}

	sendJSON(w, http.StatusOK, syncStatusResponse{
		Metrics:    syncmetrics.SnapshotNow(),
		QueueDepth: depth,
	})
}

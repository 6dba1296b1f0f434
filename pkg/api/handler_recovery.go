package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
)

// staleLeaseThreshold matches the lease grace period the worker pool's own
// orphan scan uses (pkg/queue/orphan.go) — a job isn't "stale" just because
// its lease briefly lagged a heartbeat.
const staleLeaseThreshold = 2 * time.Minute

// recoveryHandler handles POST /recovery: operator-triggered stale-job
// recovery, a queue/expiry status snapshot, or expired-preflight cleanup.
// Grounded on the teacher's orphan-recovery startup routine
// (pkg/queue/orphan.go's CleanupStartupOrphans), exposed here as an
// on-demand HTTP action instead of only running at process start.
func (s *Server) recoveryHandler(c *gin.Context) {
	var req RecoveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Validation(err.Error()))
		return
	}

	ctx := c.Request.Context()

	switch req.Action {
	case RecoveryActionRecover:
		recovered, failed, err := s.queue.RecoverStale(ctx, time.Now().Add(-staleLeaseThreshold))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, RecoveryResponse{Action: req.Action, Recovered: recovered, Failed: failed})

	case RecoveryActionStatus:
		stats, err := s.queue.Stats(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, RecoveryResponse{Action: req.Action, Stats: &stats})

	case RecoveryActionCleanup:
		cleaned, err := s.preflights.CleanupExpired(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, RecoveryResponse{Action: req.Action, Cleaned: cleaned})

	default:
		writeError(c, apperrors.Validation("unknown recovery action: "+string(req.Action)))
	}
}

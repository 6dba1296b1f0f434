package queue

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"
)

// orphanState tracks stale-lease recovery metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runStaleLeaseRecovery periodically scans for jobs whose lease has
// expired without a heartbeat. All pods run this independently —
// RecoverStale's UPDATE is idempotent against a job already reclaimed by
// another pod's scan.
func (p *WorkerPool) runStaleLeaseRecovery(ctx context.Context) {
	ticker := time.NewTicker(p.config.StaleLeaseCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.recoverStaleLeases(ctx); err != nil {
				slog.Error("Stale-lease recovery failed", "error", err)
			}
		}
	}
}

// recoverStaleLeases finds processing jobs with an expired lease and
// either requeues them (attempts remain) or fails them terminally
// (attempts exhausted).
func (p *WorkerPool) recoverStaleLeases(ctx context.Context) error {
	threshold := time.Now().Add(-p.config.StaleLeaseThreshold)

	recovered, failed, err := p.queue.RecoverStale(ctx, threshold)
	if err != nil {
		return err
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	if recovered > 0 || failed > 0 {
		slog.Warn("Stale lease recovery completed",
			"requeued", recovered,
			"failed_exhausted", failed)
	}

	return nil
}

// CleanupStartupOrphans performs a one-time cleanup of jobs owned by this
// pod that were processing when the pod previously crashed. Called once
// during startup, before the worker pool begins processing.
func CleanupStartupOrphans(ctx context.Context, db *sql.DB, podID string) error {
	n, err := resetStuckProcessingForPod(ctx, db, podID)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	slog.Warn("Requeued startup orphans from previous run", "pod_id", podID, "count", n)
	return nil
}

// Package cleanup enforces this system's data retention policies: expired
// preflights, aged-out completed audit records, and aged-out terminal
// reasoning sessions are all deleted on a periodic sweep. Grounded on the
// teacher's pkg/cleanup.Service (background ticker loop, idempotent and
// safe to run from multiple pods), retargeted from the teacher's
// session/event retention onto this domain's preflight/audit/reasoning
// stores.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/chunkstore"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/config"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/preflight"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/reasoning"
)

// Service periodically enforces retention policies:
//   - Deletes expired preflights (and, via cascade, their jobs/statuses)
//   - Deletes completed audit records past AuditRetentionDays
//   - Deletes terminal reasoning sessions past ReasoningSessionTTL
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config     *config.RetentionConfig
	preflights *preflight.Store
	audits     *chunkstore.Store
	reasoning  *reasoning.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	preflights *preflight.Store,
	audits *chunkstore.Store,
	reasoningStore *reasoning.Store,
) *Service {
	return &Service{
		config:     cfg,
		preflights: preflights,
		audits:     audits,
		reasoning:  reasoningStore,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"preflight_ttl", s.config.PreflightTTL,
		"audit_retention_days", s.config.AuditRetentionDays,
		"reasoning_session_ttl", s.config.ReasoningSessionTTL,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.cleanupExpiredPreflights(ctx)
	s.cleanupOldAuditRecords(ctx)
	s.cleanupOldReasoningSessions(ctx)
}

// cleanupExpiredPreflights deletes preflights past their TTL regardless of
// whether a job ever ran against them; PreflightTTL is independent of
// AuditRetentionDays because a preflight that's never submitted still
// holds a full repo map and file content worth reclaiming promptly.
func (s *Service) cleanupExpiredPreflights(ctx context.Context) {
	count, err := s.preflights.CleanupExpired(ctx)
	if err != nil {
		slog.Error("Retention: preflight cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted expired preflights", "count", count)
	}
}

func (s *Service) cleanupOldAuditRecords(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.AuditRetentionDays)
	count, err := s.audits.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: audit record cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old audit records", "count", count)
	}
}

func (s *Service) cleanupOldReasoningSessions(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.ReasoningSessionTTL)
	count, err := s.reasoning.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: reasoning session cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old reasoning sessions", "count", count)
	}
}

// Package scheduler runs the periodic background tasks of the daemon:
// the unreplied-request sweep and audit log retention pruning.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcond-project/rcond/internal/config"
	"github.com/rcond-project/rcond/internal/db"
	"github.com/rcond-project/rcond/internal/events"
	"github.com/rcond-project/rcond/internal/network"
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	registry *network.SessionRegistry
	audit    *db.AuditLog
}

// NewScheduler creates a new task scheduler. audit may be nil when the
// audit log is disabled.
func NewScheduler(cfg *config.Config, eventBus *events.EventBus, registry *network.SessionRegistry, audit *db.AuditLog) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		eventBus: eventBus,
		registry: registry,
		audit:    audit,
	}
}

// Start begins running all scheduled tasks and blocks until the context
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	go s.runSweepLoop(ctx)

	if s.audit != nil {
		go s.runAuditPruneLoop(ctx)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// runSweepLoop re-reports unreplied requests at the configured interval.
func (s *Scheduler) runSweepLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.GetApplicationData().Sweeper.IntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepUnreplied(ctx)
		}
	}
}

// SweepUnreplied emits one unreplied event per outstanding request across
// every registered session. Advisory only: nothing is mutated, retried,
// or expired, and the same request is re-reported on every sweep until it
// is replied to or its session closes.
func (s *Scheduler) SweepUnreplied(ctx context.Context) {
	now := time.Now()
	reported := 0

	for _, sess := range s.registry.All() {
		for _, p := range sess.Pending() {
			s.eventBus.Emit(ctx, events.Event{
				Type:   events.EventRequestUnreplied,
				Source: "sweeper",
				Payload: events.RequestUnrepliedPayload{
					SessionID: sess.ID(),
					Message:   p.Frame,
					Age:       now.Sub(p.ReceivedAt),
				},
			})
			reported++
		}
	}

	if reported > 0 {
		log.Debug().Int("unreplied", reported).Msg("sweep completed")
	}
}

// runAuditPruneLoop enforces audit retention once a day.
func (s *Scheduler) runAuditPruneLoop(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneAudit()
		}
	}
}

// pruneAudit deletes audit rows older than the configured retention.
func (s *Scheduler) pruneAudit() {
	retention := s.cfg.GetApplicationData().Audit.RetentionDays
	cutoff := time.Now().AddDate(0, 0, -retention)

	removed, err := s.audit.PruneBefore(cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("audit prune failed")
		return
	}

	log.Info().
		Int64("removed_rows", removed).
		Time("cutoff", cutoff).
		Msg("audit prune completed")
}

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Retention purges audit records older than the configured window on a
// daily cron schedule.
type Retention struct {
	cron  *cron.Cron
	store *Store
	days  int
}

// NewRetention creates a retention sweeper for the store. days <= 0 keeps
// records forever.
func NewRetention(store *Store, days int) *Retention {
	return &Retention{cron: cron.New(), store: store, days: days}
}

// Start registers the daily sweep and begins the schedule.
func (r *Retention) Start() error {
	if r.days <= 0 {
		return nil
	}
	_, err := r.cron.AddFunc("30 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		r.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("registering retention schedule: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to complete.
func (r *Retention) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// Sweep deletes records past the retention window.
func (r *Retention) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -r.days)
	purged, err := r.store.Purge(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("audit_retention_failed")
		return
	}
	if purged > 0 {
		log.Info().Int64("purged", purged).Int("retention_days", r.days).Msg("audit_retention_swept")
	}
}

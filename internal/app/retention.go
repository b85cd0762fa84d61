package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sentinel-oracle/internal/scheduler"
	"sentinel-oracle/internal/storage"
)

const pruneInterval = time.Hour

// pruner deletes verdict rows older than the configured retention.
type pruner struct {
	store     storage.VerdictStore
	retention time.Duration
	logger    zerolog.Logger
}

func (p *pruner) tick(ctx context.Context, at time.Time) error {
	cutoff := at.Add(-p.retention)
	if err := p.store.DeleteVerdictsBefore(ctx, cutoff); err != nil {
		return err
	}
	p.logger.Debug().Time("cutoff", cutoff).Msg("历史 verdict 已清理")
	return nil
}

func (p *pruner) run(ctx context.Context) error {
	sched := scheduler.New(scheduler.Options{Interval: pruneInterval, RunImmediately: true}, p.logger)
	return sched.Run(ctx, p.tick)
}

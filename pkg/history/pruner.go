package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultPruneSchedule runs retention pruning daily at 03:00.
const DefaultPruneSchedule = "0 3 * * *"

// Pruner deletes history older than a retention window on a cron schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	schedule  cron.Schedule
	logger    zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// ParseSchedule accepts five-field cron expressions and descriptors such as
// "@daily" or "@every 1h".
func ParseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		expr = DefaultPruneSchedule
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched, nil
}

// NewPruner builds a pruner. A non-positive retention is rejected.
func NewPruner(store *Store, expr string, retention time.Duration, logger zerolog.Logger) (*Pruner, error) {
	if store == nil {
		return nil, errors.New("history store is required")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	return &Pruner{store: store, retention: retention, schedule: sched, logger: logger}, nil
}

// Next reports when the pruner fires after t.
func (p *Pruner) Next(t time.Time) time.Time {
	return p.schedule.Next(t)
}

// RunOnce prunes everything older than the retention window.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.store.now().Add(-p.retention)
	n, err := p.store.Prune(ctx, cutoff)
	if err != nil {
		p.logger.Error().Err(err).Msg("History prune failed")
		return 0, err
	}
	if n > 0 {
		p.logger.Info().Int64("deleted", n).Dur("retention", p.retention).Msg("Pruned invocation history")
	}
	return n, nil
}

// Start schedules pruning in the background. Calling Start twice is a no-op.
func (p *Pruner) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.cron = cron.New()
	p.cron.Schedule(p.schedule, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_, _ = p.RunOnce(ctx)
	}))
	p.cron.Start()
	p.running = true

	p.logger.Info().Time("next", p.Next(time.Now())).Msg("History pruner started")
}

// Stop halts scheduling and waits for a running prune to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	<-p.cron.Stop().Done()
	p.running = false
}

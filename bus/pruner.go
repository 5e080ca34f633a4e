package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner deletes events older than a retention window on a cron schedule.
type Pruner struct {
	store     EventStore
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	cron *cron.Cron
}

// NewPruner validates schedule (standard five-field cron or a descriptor
// such as @hourly) and returns a stopped pruner.
func NewPruner(store EventStore, retention time.Duration, schedule string, logger *slog.Logger) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("pruner: retention must be positive, got %s", retention)
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pruner{
		store:     store,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		cron:      cron.New(),
	}
	spec := strings.TrimSpace(schedule)
	if spec == "" {
		spec = "@hourly"
	}
	if _, err := p.cron.AddFunc(spec, p.run); err != nil {
		return nil, fmt.Errorf("pruner: invalid schedule %q: %w", schedule, err)
	}
	return p, nil
}

// Start runs the schedule in the background.
func (p *Pruner) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}

// PruneNow deletes every event older than the retention window.
func (p *Pruner) PruneNow(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	p.logger.Debug("pruned trace events", "removed", n, "cutoff", cutoff)
	return n, nil
}

func (p *Pruner) run() {
	if _, err := p.PruneNow(context.Background()); err != nil {
		p.logger.Error("trace prune failed", "error", err)
	}
}

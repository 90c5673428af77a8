package worker

import (
	"context"
	"time"
)

// Prunable is anything that can drop entries past their retention window.
type Prunable interface {
	Prune(ctx context.Context) int
	Retention() time.Duration
}

// Pruner deletes expired queue entries while the client runs.
type Pruner struct {
	target Prunable
}

// NewPruner creates a new Pruner worker.
func NewPruner(target Prunable) *Pruner {
	return &Pruner{target: target}
}

// Interval is 10% of the retention window, between one minute and one hour.
func (p *Pruner) Interval() time.Duration {
	interval := min(p.target.Retention()/10, time.Hour)
	return max(interval, time.Minute)
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.target.Retention() <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.target.Prune(ctx)
		}
	}
}

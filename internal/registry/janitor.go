package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Janitor periodically persists offline flips for stale agents.
type Janitor struct {
	directory *Directory
	interval  time.Duration
	logger    *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewJanitor(directory *Directory, interval time.Duration, logger *slog.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		directory: directory,
		interval:  interval,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

func (j *Janitor) Start(ctx context.Context) {
	j.wg.Add(1)
	go j.sweepLoop(ctx)
}

func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
}

func (j *Janitor) sweepLoop(ctx context.Context) {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.directory.CleanupStale(ctx); err != nil {
				j.logger.Error("stale sweep failed", "error", err)
			}
		}
	}
}

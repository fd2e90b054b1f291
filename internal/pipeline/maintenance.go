package pipeline

import (
	"context"
	"time"

	"github.com/user/pagejson-service/internal/cache"
	"go.uber.org/zap"
)

// SweepExpired removes every cache entry older than the configured cache
// duration and returns how many were removed.
func (p *Pipeline) SweepExpired() int {
	removed := p.cache.SweepExpired(p.opts.CacheTTL())
	p.updateCacheGauges()
	return removed
}

func (p *Pipeline) Stats() cache.Stats {
	return p.cache.Stats()
}

// RunMaintenance sweeps the cache every interval until ctx is cancelled.
func (p *Pipeline) RunMaintenance(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			removed := p.SweepExpired()
			stats := p.Stats()
			p.logger.Info("cache sweep",
				zap.Int("removed", removed),
				zap.Int("entries", stats.EntryCount),
				zap.Int64("size_bytes", stats.TotalSizeBytes))
		}
	}
}

func (p *Pipeline) updateCacheGauges() {
	if p.metrics == nil {
		return
	}
	s := p.cache.Stats()
	p.metrics.SetCacheStats(s.EntryCount, s.TotalSizeBytes)
}

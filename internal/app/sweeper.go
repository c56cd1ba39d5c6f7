package app

import (
	"context"
	"time"

	"github.com/dkeye/Relay/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Sweeper evicts registry entries that have been offline for longer than TTL.
type Sweeper struct {
	Registry *Registry
	TTL      time.Duration
	Interval time.Duration
	Now      func() time.Time
}

// Run blocks until ctx is done. A zero TTL disables eviction.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.TTL <= 0 {
		log.Info().Str("module", "app.sweeper").Msg("offline retention disabled")
		<-ctx.Done()
		return nil
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

func (s *Sweeper) SweepOnce() int {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	n := s.Registry.EvictOffline(now().Add(-s.TTL))
	if n > 0 {
		metrics.EntriesEvicted.Add(float64(n))
		log.Info().Str("module", "app.sweeper").Int("evicted", n).Int("remaining", s.Registry.Len()).Msg("evicted offline entries")
	}
	return n
}

package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"github.com/sourcegraph/conc"
)

type StatusWriterConfig struct {
	Shards          int
	QueueSize       int
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
}

func (c StatusWriterConfig) withDefaults() StatusWriterConfig {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerOpenFor <= 0 {
		c.BreakerOpenFor = 30 * time.Second
	}
	return c
}

type statusUpdate struct {
	uid      domain.UserID
	status   domain.Status
	lastSeen *time.Time
}

// AsyncStatusWriter is a best-effort mirror of presence transitions.
// Updates of one user always land on the same shard, so they reach the
// store in the order Write was called. Presence calls Write from inside
// the registry lock.
type AsyncStatusWriter struct {
	store   core.UserStore
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu     sync.RWMutex
	closed bool
	shards []chan statusUpdate
	wg     conc.WaitGroup
}

var _ core.StatusWriter = (*AsyncStatusWriter)(nil)

func NewStatusWriter(store core.UserStore, cfg StatusWriterConfig) *AsyncStatusWriter {
	cfg = cfg.withDefaults()
	w := &AsyncStatusWriter{
		store:   store,
		timeout: cfg.Timeout,
		shards:  make([]chan statusUpdate, cfg.Shards),
	}
	w.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "user-store",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("module", "app.status").Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).Msg("circuit state changed")
		},
	})
	for i := range w.shards {
		ch := make(chan statusUpdate, cfg.QueueSize)
		w.shards[i] = ch
		w.wg.Go(func() { w.run(ch) })
	}
	return w
}

// Write queues the transition and returns immediately. A full shard queue
// drops the update.
func (w *AsyncStatusWriter) Write(uid domain.UserID, status domain.Status, lastSeen *time.Time) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	ch := w.shards[xxhash.Sum64String(string(uid))%uint64(len(w.shards))]
	select {
	case ch <- statusUpdate{uid: uid, status: status, lastSeen: copyTime(lastSeen)}:
	default:
		metrics.StatusWrites.WithLabelValues("queue_full").Inc()
		log.Warn().Str("module", "app.status").Str("user", string(uid)).Str("status", string(status)).Msg("status queue full, update dropped")
	}
}

func (w *AsyncStatusWriter) run(ch <-chan statusUpdate) {
	for u := range ch {
		w.apply(u)
	}
}

func (w *AsyncStatusWriter) apply(u statusUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	_, err := w.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, w.store.UpdateUserStatus(ctx, u.uid, u.status, u.lastSeen)
	})
	switch {
	case err == nil:
		metrics.StatusWrites.WithLabelValues("ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.StatusWrites.WithLabelValues("open_circuit").Inc()
		log.Warn().Str("module", "app.status").Str("user", string(u.uid)).Msg("user store circuit open, update skipped")
	default:
		metrics.StatusWrites.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("module", "app.status").Str("user", string(u.uid)).Str("status", string(u.status)).Msg("error updating user status")
	}
}

// Close stops accepting updates, drains the queues and waits for the workers.
func (w *AsyncStatusWriter) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, ch := range w.shards {
		close(ch)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

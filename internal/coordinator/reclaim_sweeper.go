package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dreamware/powlease/internal/logging"
)

// ReclaimSweeper periodically returns expired leases to the pool so that
// units held by vanished workers become available even when no worker is
// asking for work.
//
// It runs the same reclaim path that Registry.Acquire runs inline and shares
// the registry's lock; it holds no state of its own besides its timers.
// Thread-safe: Start may run in its own goroutine while Stop is called from another.
type ReclaimSweeper struct {
	registry     *Registry
	logger       *slog.Logger
	metrics      *Metrics
	onReclaim    func([]Reclaim)    // Callback after a sweep that reclaimed units
	ctx          context.Context    // Context for cancellation
	cancel       context.CancelFunc // Cancel function for shutdown
	interval     time.Duration      // How often to sweep
	leaseTimeout time.Duration      // Lease age after which a unit is reclaimed
	wg           sync.WaitGroup     // Wait group for graceful shutdown
}

// SweeperOption customises a ReclaimSweeper.
type SweeperOption func(*ReclaimSweeper)

// WithSweeperLogger sets the sweeper's logger.
func WithSweeperLogger(l *slog.Logger) SweeperOption {
	return func(s *ReclaimSweeper) { s.logger = logging.OrNop(l) }
}

// WithSweeperMetrics makes the sweeper count reclaimed leases.
func WithSweeperMetrics(m *Metrics) SweeperOption {
	return func(s *ReclaimSweeper) { s.metrics = m }
}

// NewReclaimSweeper creates a sweeper that calls
// registry.ReclaimExpired(leaseTimeout) every interval.
//
// Parameters:
//   - registry: Registry to sweep
//   - interval: Time between sweeps (recommended: 10s)
//   - leaseTimeout: Lease age after which a unit is reclaimed (recommended: 30s)
//
// Example:
//
//	sweeper := NewReclaimSweeper(registry, 10*time.Second, 30*time.Second)
//	go sweeper.Start(ctx)
//	defer sweeper.Stop()
func NewReclaimSweeper(registry *Registry, interval, leaseTimeout time.Duration, opts ...SweeperOption) *ReclaimSweeper {
	ctx, cancel := context.WithCancel(context.Background())
	s := &ReclaimSweeper{
		registry:     registry,
		logger:       logging.Nop(),
		interval:     interval,
		leaseTimeout: leaseTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOnReclaim sets a callback invoked with the reclaimed leases after each
// sweep that reclaimed at least one unit. The callback runs on the sweeper
// goroutine without any registry lock held.
func (s *ReclaimSweeper) SetOnReclaim(callback func([]Reclaim)) {
	s.onReclaim = callback
}

// Start sweeps every interval until ctx or the sweeper itself is canceled.
// It blocks, so run it in its own goroutine.
func (s *ReclaimSweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	if ctx == nil {
		ctx = s.ctx
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("reclaim sweeper started", "interval", s.interval, "lease_timeout", s.leaseTimeout)

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			s.logger.Info("reclaim sweeper stopping", "reason", "context canceled")
			return
		case <-s.ctx.Done():
			s.logger.Info("reclaim sweeper stopping", "reason", "stopped")
			return
		}
	}
}

// Stop cancels the sweep loop and waits for it to return.
func (s *ReclaimSweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Sweep performs one reclaim pass and returns how many units were reclaimed.
func (s *ReclaimSweeper) Sweep() int {
	reclaimed := s.registry.ReclaimExpired(s.leaseTimeout)
	if len(reclaimed) == 0 {
		return 0
	}

	for _, rc := range reclaimed {
		s.logger.Info("lease expired, unit returned to pool",
			"range_start", rc.RangeStart.String(),
			"range_end", rc.RangeStart.Add64(s.registry.Step()).String(),
			"holder", rc.Holder,
			"age", rc.Age,
			"timeout_count", rc.TimeoutCount)
	}
	s.logger.Info("sweep reclaimed expired leases", "count", len(reclaimed))
	s.metrics.LeasesReclaimed(len(reclaimed))

	if s.onReclaim != nil {
		s.onReclaim(reclaimed)
	}
	return len(reclaimed)
}

package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

// TestSweepReturnsExpiredLeases covers the third end-to-end scenario: the
// sweeper frees a lease whose holder vanished while the other units finished.
func TestSweepReturnsExpiredLeases(t *testing.T) {
	r, clock := newTestRegistry(t, 3, 100, 30*time.Second)
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg, "")
	require.NoError(t, err)
	sweeper := NewReclaimSweeper(r, 10*time.Second, 30*time.Second, WithSweeperMetrics(m))

	stale := r.Acquire("w1")
	for i := 0; i < 2; i++ {
		out := r.Acquire("w2")
		_, err := r.Complete(out.RangeStart, false)
		require.NoError(t, err)
	}

	clock.Advance(29 * time.Second)
	assert.Zero(t, sweeper.Sweep())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, sweeper.Sweep())
	assert.Zero(t, sweeper.Sweep())

	u, _ := r.Lookup(stale.RangeStart)
	assert.Equal(t, Available, u.State)
	assert.Equal(t, uint32(1), u.TimeoutCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.leasesReclaimed))

	out := r.Acquire("w3")
	assert.True(t, out.RangeStart.Equals(stale.RangeStart))
}

// TestSweeperStartStop verifies the ticker loop and the callback.
func TestSweeperStartStop(t *testing.T) {
	r, clock := newTestRegistry(t, 2, 100, 30*time.Second)
	sweeper := NewReclaimSweeper(r, 5*time.Millisecond, 30*time.Second)

	var (
		mu  sync.Mutex
		got []Reclaim
	)
	sweeper.SetOnReclaim(func(rc []Reclaim) {
		mu.Lock()
		got = append(got, rc...)
		mu.Unlock()
	})

	go sweeper.Start(context.Background())

	r.Acquire("w1")
	r.Acquire("w2")
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 5*time.Millisecond)

	sweeper.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, got[0].RangeStart.IsZero())
	assert.True(t, got[1].RangeStart.Equals(uint128.From64(100)))
	assert.Equal(t, Stats{Total: 2, Available: 2, Retried: 2, Timeouts: 2}, r.Stats())
}

// TestSweeperStopsOnContext verifies that Start returns when its context ends.
func TestSweeperStopsOnContext(t *testing.T) {
	r, _ := newTestRegistry(t, 1, 100, 30*time.Second)
	sweeper := NewReclaimSweeper(r, time.Hour, 30*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	sweeper.Stop()
}

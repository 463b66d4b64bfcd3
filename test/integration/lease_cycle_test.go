package integration

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/dreamware/powlease/internal/coordinator"
	"github.com/dreamware/powlease/internal/pow"
	"github.com/dreamware/powlease/internal/protocol"
	"github.com/dreamware/powlease/internal/worker"
)

const seed = "Crefax"

// TestSystem is a coordinator with its reclaim sweeper running on a
// loopback listener.
type TestSystem struct {
	t        *testing.T
	registry *coordinator.Registry
	server   *coordinator.Server
	solution *coordinator.SolutionLog
	sweeper  *coordinator.ReclaimSweeper
	addr     string
	cancel   context.CancelFunc
	done     chan error
}

// NewTestSystem starts a coordinator with the given layout. It is stopped
// when the test ends.
func NewTestSystem(t *testing.T, units int, step uint64, zeros int, leaseTimeout time.Duration) *TestSystem {
	t.Helper()
	registry, err := coordinator.NewRegistry(units, step, leaseTimeout)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sols := coordinator.NewSolutionLog()
	ts := &TestSystem{
		t:        t,
		registry: registry,
		server: coordinator.NewServer(registry, coordinator.ServerConfig{
			Seed:       seed,
			ZeroPrefix: zeros,
			IOTimeout:  5 * time.Second,
		}, coordinator.WithSolutionLog(sols)),
		solution: sols,
		sweeper:  coordinator.NewReclaimSweeper(registry, leaseTimeout/4, leaseTimeout),
		addr:     ln.Addr().String(),
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go ts.sweeper.Start(ctx)
	go func() { ts.done <- ts.server.Serve(ctx, ln) }()

	t.Cleanup(ts.Stop)
	return ts
}

// Stop shuts the coordinator down and waits for it.
func (ts *TestSystem) Stop() {
	ts.cancel()
	ts.sweeper.Stop()
	select {
	case err := <-ts.done:
		assert.NoError(ts.t, err)
	case <-time.After(5 * time.Second):
		ts.t.Error("coordinator did not stop")
	}
}

// Dial opens a raw protocol connection.
func (ts *TestSystem) Dial() *protocol.LineConn {
	ts.t.Helper()
	conn, err := net.DialTimeout("tcp", ts.addr, 2*time.Second)
	require.NoError(ts.t, err)
	lc := protocol.NewLineConn(conn, 5*time.Second)
	ts.t.Cleanup(func() { lc.Close() })
	return lc
}

// GetWork sends GET_WORK on lc and returns the raw reply line.
func (ts *TestSystem) GetWork(lc *protocol.LineConn) string {
	ts.t.Helper()
	require.NoError(ts.t, lc.WriteLine("GET_WORK"))
	line, err := lc.ReadLine()
	require.NoError(ts.t, err)
	return line
}

// TestLeaseOrderAndWait: three workers get 0, 100 and 200 in order and a
// fourth is told to wait.
func TestLeaseOrderAndWait(t *testing.T) {
	ts := NewTestSystem(t, 3, 100, 8, time.Minute)

	for _, want := range []string{"0", "100", "200"} {
		assert.Equal(t, want, ts.GetWork(ts.Dial()))
	}
	assert.Equal(t, "WAIT", ts.GetWork(ts.Dial()))
}

// TestEmptyResultsExhaustWork: completing every unit with RESULT_EMPTY makes
// the next GET_WORK answer NO_WORK.
func TestEmptyResultsExhaustWork(t *testing.T) {
	ts := NewTestSystem(t, 3, 100, 8, time.Minute)
	workers := []*protocol.LineConn{ts.Dial(), ts.Dial(), ts.Dial()}

	for _, lc := range workers {
		start, err := protocol.ParseNumber(ts.GetWork(lc))
		require.NoError(t, err)
		require.NoError(t, lc.WriteLine(protocol.NewResultEmpty(start, start.Add64(100)).String()))
	}

	require.Eventually(t, func() bool {
		return ts.registry.Stats().Completed == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "NO_WORK", ts.GetWork(ts.Dial()))
}

// TestAbandonedLeaseIsReclaimed: a lease whose holder disappears is swept
// back with one timeout and becomes the only candidate.
func TestAbandonedLeaseIsReclaimed(t *testing.T) {
	const leaseTimeout = 500 * time.Millisecond
	ts := NewTestSystem(t, 3, 100, 8, leaseTimeout)

	abandoned := ts.Dial()
	assert.Equal(t, "0", ts.GetWork(abandoned))
	require.NoError(t, abandoned.Close())

	finisher := ts.Dial()
	for i := 0; i < 2; i++ {
		start, err := protocol.ParseNumber(ts.GetWork(finisher))
		require.NoError(t, err)
		require.NoError(t, finisher.WriteLine(protocol.NewResultEmpty(start, start.Add64(100)).String()))
	}
	assert.Equal(t, "WAIT", ts.GetWork(finisher))

	require.Eventually(t, func() bool {
		u, ok := ts.registry.Lookup(uint128.Zero)
		return ok && u.State == coordinator.Available
	}, 5*leaseTimeout, 10*time.Millisecond)

	u, _ := ts.registry.Lookup(uint128.Zero)
	assert.Equal(t, uint32(1), u.TimeoutCount)

	assert.Equal(t, "0", ts.GetWork(finisher))
	assert.Equal(t, "WAIT", ts.GetWork(ts.Dial()))
}

// TestWorkersFindAndReport runs several worker sessions concurrently until
// the coordinator is drained, then checks every reported solution.
func TestWorkersFindAndReport(t *testing.T) {
	const (
		units = 12
		step  = 500
		zeros = 2
	)
	ts := NewTestSystem(t, units, step, zeros, time.Minute)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		s, err := worker.NewSession(worker.Config{
			CoordAddr:   ts.addr,
			Seed:        seed,
			ZeroPrefix:  zeros,
			Step:        step,
			MaxRetries:  3,
			RetryDelay:  10 * time.Millisecond,
			WaitDelay:   10 * time.Millisecond,
			IOTimeout:   5 * time.Second,
			Parallelism: 2,
		})
		require.NoError(t, err)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Run(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	st := ts.registry.Stats()
	assert.Equal(t, units, st.Completed)
	assert.Zero(t, st.Assigned)

	sols := ts.solution.All()
	assert.Equal(t, st.Found, len(sols))
	assert.Equal(t, sols, ts.server.Solutions().All())
	for _, sol := range sols {
		assert.NoError(t, pow.Verify(pow.SHA256Oracle{}, seed, zeros, sol.Combined, sol.Number, sol.Hash))
		assert.True(t, ts.registry.BaseRange(sol.Number).Equals(sol.RangeStart))
	}
}

package coordinator

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"

	"github.com/dreamware/powlease/internal/pow"
	"github.com/dreamware/powlease/internal/protocol"
)

// fakeClock is a manually advanced clock for lease expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestRegistry returns a registry driven by a fake clock.
func newTestRegistry(t *testing.T, count int, step uint64, leaseTimeout time.Duration) (*Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	r, err := NewRegistry(count, step, leaseTimeout, WithClock(clock.Now))
	require.NoError(t, err)
	return r, clock
}

// findQualifying returns the first candidate in [start, end) whose digest
// carries zeros leading '0' hex digits.
func findQualifying(t *testing.T, seed string, zeros int, start, end uint64) (uint128.Uint128, string, string) {
	t.Helper()
	o := pow.SHA256Oracle{}
	for n := start; n < end; n++ {
		c := uint128.From64(n)
		combined, digest := o.Hash(seed, c)
		if pow.HasZeroPrefix(digest, zeros) {
			return c, combined, digest
		}
	}
	t.Fatalf("no candidate with %d zeros in [%d, %d)", zeros, start, end)
	return uint128.Zero, "", ""
}

// startServer serves r on a loopback listener until the test ends.
func startServer(t *testing.T, r *Registry, cfg ServerConfig, opts ...ServerOption) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(r, cfg, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return srv, ln.Addr().String()
}

// dialWorker opens a protocol connection to addr.
func dialWorker(t *testing.T, addr string) *protocol.LineConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	lc := protocol.NewLineConn(conn, 2*time.Second)
	t.Cleanup(func() { lc.Close() })
	return lc
}

// getWork sends GET_WORK and parses the reply.
func getWork(t *testing.T, lc *protocol.LineConn) protocol.Reply {
	t.Helper()
	require.NoError(t, lc.WriteLine(protocol.NewGetWork().String()))
	line, err := lc.ReadLine()
	require.NoError(t, err)
	reply, err := protocol.ParseReply(line)
	require.NoError(t, err)
	return reply
}

// syncBuffer is a bytes.Buffer safe for a logger writing from session
// goroutines while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fixedOracle reports the same digest for every candidate.
type fixedOracle struct {
	digest string
}

func (o fixedOracle) Hash(seed string, n uint128.Uint128) (string, string) {
	return seed + n.String(), o.digest
}

// Package coordinator implements the lease side of the distributed
// proof-of-work search: it partitions the search space into fixed-size work
// units, leases them to workers over the line protocol, takes back leases
// that expire, and retires units as results arrive.
//
// # Overview
//
// Workers are untrusted and may vanish at any time. Instead of tracking
// worker liveness, every assignment is a lease with an expiry. A worker that
// stops reporting simply lets its lease age out; the unit then returns to
// the pool with its TimeoutCount raised and is offered again, after every
// unit that never timed out.
//
// # Architecture
//
//	┌───────────────────────────────────────────────┐
//	│                 COORDINATOR                   │
//	├───────────────────────────────────────────────┤
//	│                                               │
//	│  ┌───────────────┐      ┌──────────────────┐  │
//	│  │ Server        │      │ ReclaimSweeper   │  │
//	│  │ one session   │      │ ticker every 10s │  │
//	│  │ per TCP conn  │      │                  │  │
//	│  └──────┬────────┘      └────────┬─────────┘  │
//	│         │ Acquire / Complete     │ Reclaim    │
//	│         ▼                        ▼            │
//	│  ┌─────────────────────────────────────────┐  │
//	│  │ Registry (single mutex)                 │  │
//	│  │ []*WorkUnit ordered by RangeStart       │  │
//	│  └─────────────────────────────────────────┘  │
//	│                                               │
//	│  SolutionLog   Metrics   AdminHandler (HTTP)  │
//	└───────────────────────────────────────────────┘
//
// # Core Components
//
// Registry: owns every WorkUnit
//   - Created once with a fixed count and step; units tile [0, count*step)
//   - Acquire reclaims expired leases, then leases the Available unit with
//     the smallest (TimeoutCount, RangeStart)
//   - Complete retires a unit; repeating it is a no-op
//   - ReclaimExpired returns stale leases to the pool
//
// ReclaimSweeper: runs ReclaimExpired on a ticker so stale leases are freed
// even while no worker asks for work.
//
// Server: one session per connection. GET_WORK maps to Acquire; RESULT is
// verified, attributed to BaseRange(number) and completed; RESULT_EMPTY
// completes its range start. Malformed lines are logged and ignored. After
// NO_WORK the session ends.
//
// # Wire Protocol
//
//	worker → coordinator   GET_WORK
//	coordinator → worker   <rangeStart> | WAIT | NO_WORK
//	worker → coordinator   RESULT <combined> <number> <hash>
//	worker → coordinator   RESULT_EMPTY <rangeStart> <rangeEnd>
//
// # Timers
//
// Socket reads and writes are bounded by ServerConfig.IOTimeout. Lease
// expiry is a separate, coarser timer owned by the registry. The two are
// independent: a session can sit idle on a read while its lease expires.
//
// # Example
//
//	registry, err := coordinator.NewRegistry(1000, 10_000_000, 30*time.Second)
//	if err != nil {
//	    return err
//	}
//	sweeper := coordinator.NewReclaimSweeper(registry, 10*time.Second, 30*time.Second)
//	go sweeper.Start(ctx)
//	defer sweeper.Stop()
//
//	srv := coordinator.NewServer(registry, coordinator.ServerConfig{
//	    Seed:       "Crefax",
//	    ZeroPrefix: 8,
//	    IOTimeout:  30 * time.Second,
//	})
//	ln, err := net.Listen("tcp", "127.0.0.1:22900")
//	if err != nil {
//	    return err
//	}
//	return srv.Serve(ctx, ln)
package coordinator

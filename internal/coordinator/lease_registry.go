// Package coordinator implements the lease side of the distributed
// proof-of-work search. See doc.go for complete package documentation.
package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"lukechampine.com/uint128"
)

// ErrUnknownLease is returned when a completion names a range start that is
// not a unit key. The registry is left untouched.
var ErrUnknownLease = errors.New("unknown lease key")

// LeaseStatus tags the outcome of Registry.Acquire.
type LeaseStatus int

const (
	// Leased means a unit was assigned to the caller.
	Leased LeaseStatus = iota + 1
	// Busy means no unit is free right now but some are still outstanding.
	Busy
	// Exhausted means every unit is completed.
	Exhausted
)

func (s LeaseStatus) String() string {
	switch s {
	case Leased:
		return "leased"
	case Busy:
		return "busy"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Reclaim describes one expired lease returned to the pool.
type Reclaim struct {
	RangeStart   uint128.Uint128
	Holder       string        // worker that held the lease
	Age          time.Duration // lease age when it was reclaimed
	TimeoutCount uint32        // count after the reclaim
}

// LeaseOutcome is the tagged result of Registry.Acquire. RangeStart and
// RangeEnd are only meaningful when Status is Leased.
type LeaseOutcome struct {
	// Reclaimed lists leases that expired and were returned to the pool
	// before selection ran.
	Reclaimed []Reclaim

	RangeStart   uint128.Uint128
	RangeEnd     uint128.Uint128
	Status       LeaseStatus
	TimeoutCount uint32
}

// Stats summarises the registry. The three state counts always add up to Total.
type Stats struct {
	Total     int
	Available int
	Assigned  int
	Completed int
	Found     int
	Retried   int    // units with TimeoutCount > 0
	Timeouts  uint64 // sum of all TimeoutCount
}

// Registry owns every WorkUnit and serializes all lease transitions behind a
// single mutex.
//
// The registry is created with a fixed number of units of a fixed size; unit
// i covers [i*step, (i+1)*step). Units are never added or removed, so the
// union of all ranges always tiles [0, count*step) exactly.
//
// Architecture:
//
//	┌─────────────────────────────────────────────┐
//	│                 Registry                    │
//	├─────────────────────────────────────────────┤
//	│  units: []*WorkUnit ordered by RangeStart   │
//	│  index: RangeStart → *WorkUnit              │
//	│  mu:    one mutex for every transition      │
//	├─────────────────────────────────────────────┤
//	│  Available ──Acquire──▶ Assigned            │
//	│  Assigned ──expiry───▶ Available (+timeout) │
//	│  Available|Assigned ──Complete──▶ Completed │
//	└─────────────────────────────────────────────┘
//
// Concurrency Model:
//   - Acquire, Complete and ReclaimExpired take the same exclusive lock
//   - Expired leases are reclaimed inside Acquire's critical section,
//     so selection always sees a fresh pool
//   - No I/O happens while the lock is held; reclaim details are returned
//     to the caller for logging
//   - All returned WorkUnit values are copies
//
// Performance Characteristics:
//   - Acquire: O(n) scan for the minimum (TimeoutCount, RangeStart)
//   - Complete: O(1) map lookup
//   - ReclaimExpired: O(n)
type Registry struct {
	// index maps a unit key to its unit for Complete.
	index map[uint128.Uint128]*WorkUnit

	// now is the clock used for lease stamps and expiry.
	now func() time.Time

	// units holds every unit ordered by RangeStart.
	units []*WorkUnit

	// leaseTimeout is the expiry applied inside Acquire.
	leaseTimeout time.Duration

	// step is the width of every unit.
	step uint64

	// completed counts units in the Completed state.
	completed int

	mu sync.Mutex
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithClock replaces time.Now as the registry's clock.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates count Available units at 0, step, 2*step, ... with a
// zero TimeoutCount.
//
// Parameters:
//   - count: Number of units (must be > 0)
//   - step: Width of each unit (must be > 0)
//   - leaseTimeout: Lease age after which Acquire reclaims a unit (must be > 0)
//   - opts: Optional settings such as WithClock
//
// Returns:
//   - *Registry: Registry ready to lease units
//   - error: If any argument is out of range
//
// Example:
//
//	registry, err := NewRegistry(1000, 10_000_000, 30*time.Second)
//	if err != nil {
//	    return err
//	}
//	outcome := registry.Acquire("127.0.0.1:53122")
func NewRegistry(count int, step uint64, leaseTimeout time.Duration, opts ...RegistryOption) (*Registry, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid unit count %d, must be > 0", count)
	}
	if step == 0 {
		return nil, errors.New("step must be > 0")
	}
	if leaseTimeout <= 0 {
		return nil, fmt.Errorf("invalid lease timeout %v, must be > 0", leaseTimeout)
	}

	r := &Registry{
		index:        make(map[uint128.Uint128]*WorkUnit, count),
		units:        make([]*WorkUnit, 0, count),
		leaseTimeout: leaseTimeout,
		step:         step,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	start := uint128.Zero
	for i := 0; i < count; i++ {
		u := &WorkUnit{RangeStart: start, State: Available, step: step}
		r.units = append(r.units, u)
		r.index[start] = u
		start = start.Add64(step)
	}
	return r, nil
}

// Acquire leases the best available unit to workerID.
//
// Within one critical section it:
//  1. Reclaims every lease older than the registry's lease timeout
//  2. Picks the Available unit with the smallest (TimeoutCount, RangeStart),
//     so never-expired work goes first and ties resolve to the lowest range
//  3. Marks it Assigned to workerID at the current time
//
// When nothing is Available the outcome is Busy if any unit is still
// outstanding, and Exhausted once every unit is Completed.
//
// Parameters:
//   - workerID: Opaque lease holder identity, typically the peer address
//
// Returns:
//   - LeaseOutcome: Leased with the range, Busy, or Exhausted
//
// Thread Safety:
// This method is thread-safe. Concurrent callers are served in lock order.
//
// Example:
//
//	switch out := registry.Acquire(peer); out.Status {
//	case Leased:
//	    reply(out.RangeStart.String())
//	case Busy:
//	    reply("WAIT")
//	case Exhausted:
//	    reply("NO_WORK")
//	}
func (r *Registry) Acquire(workerID string) LeaseOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := LeaseOutcome{Reclaimed: r.reclaimLocked(now, r.leaseTimeout)}

	var best *WorkUnit
	for _, u := range r.units {
		if u.State != Available {
			continue
		}
		// units are ordered by RangeStart, so only a strictly lower count wins
		if best == nil || u.TimeoutCount < best.TimeoutCount {
			best = u
		}
	}

	switch {
	case best != nil:
		best.assign(workerID, now)
		out.Status = Leased
		out.RangeStart = best.RangeStart
		out.RangeEnd = best.RangeEnd()
		out.TimeoutCount = best.TimeoutCount
	case r.completed == len(r.units):
		out.Status = Exhausted
	default:
		out.Status = Busy
	}
	return out
}

// Complete retires the unit keyed by rangeStart.
//
// Both a found match (success) and an exhausted scan retire the unit. A unit
// that is already Completed is left alone and no error is returned, so late
// or duplicate results are harmless.
//
// Parameters:
//   - rangeStart: Exact unit key
//   - success: Whether the unit produced a match
//
// Returns:
//   - bool: true if this call moved the unit to Completed
//   - error: ErrUnknownLease (wrapped) if no unit has that key
//
// Thread Safety:
// This method is thread-safe.
func (r *Registry) Complete(rangeStart uint128.Uint128, success bool) (bool, error) {
	_, retired, err := r.CompleteUnit(rangeStart, success)
	return retired, err
}

// CompleteUnit is Complete that also returns a copy of the unit as it was
// just before the call, taken in the same critical section. The copy still
// names the lease holder and carries the TimeoutCount the unit retired with.
func (r *Registry) CompleteUnit(rangeStart uint128.Uint128, success bool) (WorkUnit, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.index[rangeStart]
	if !ok {
		return WorkUnit{}, false, fmt.Errorf("%w: %s", ErrUnknownLease, rangeStart)
	}
	before := *u
	if u.State == Completed {
		return before, false, nil
	}
	u.complete(success)
	r.completed++
	return before, true, nil
}

// ReclaimExpired returns every Assigned unit whose lease is older than
// timeout to the Available pool and increments its TimeoutCount by one.
//
// Calling it again immediately reclaims nothing, so it is safe to run from a
// background sweeper alongside Acquire.
//
// Returns:
//   - []Reclaim: The reclaimed leases, ordered by RangeStart
func (r *Registry) ReclaimExpired(timeout time.Duration) []Reclaim {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.reclaimLocked(r.now(), timeout)
}

func (r *Registry) reclaimLocked(now time.Time, timeout time.Duration) []Reclaim {
	var out []Reclaim
	for _, u := range r.units {
		if !u.expired(now, timeout) {
			continue
		}
		rc := Reclaim{RangeStart: u.RangeStart, Holder: u.AssignedTo, Age: now.Sub(u.AssignedAt)}
		u.reclaim()
		rc.TimeoutCount = u.TimeoutCount
		out = append(out, rc)
	}
	return out
}

// BaseRange returns the key of the unit that would contain n:
// (n / step) * step. The result is only a valid key when n < Len()*Step().
func (r *Registry) BaseRange(n uint128.Uint128) uint128.Uint128 {
	return n.Div64(r.step).Mul64(r.step)
}

// Lookup returns a copy of the unit keyed by rangeStart.
func (r *Registry) Lookup(rangeStart uint128.Uint128) (WorkUnit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.index[rangeStart]
	if !ok {
		return WorkUnit{}, false
	}
	return *u, true
}

// Snapshot returns copies of all units ordered by RangeStart. When states
// are given, only units in one of those states are returned.
func (r *Registry) Snapshot(states ...UnitState) []WorkUnit {
	r.mu.Lock()
	out := make([]WorkUnit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, *u)
	}
	r.mu.Unlock()

	if len(states) == 0 {
		return out
	}
	return slices.DeleteFunc(out, func(u WorkUnit) bool {
		return !slices.Contains(states, u.State)
	})
}

// MostRetried returns up to limit units with a non-zero TimeoutCount,
// highest count first.
func (r *Registry) MostRetried(limit int) []WorkUnit {
	units := slices.DeleteFunc(r.Snapshot(), func(u WorkUnit) bool { return u.TimeoutCount == 0 })
	slices.SortStableFunc(units, func(a, b WorkUnit) int {
		return int(b.TimeoutCount) - int(a.TimeoutCount)
	})
	if limit >= 0 && len(units) > limit {
		units = units[:limit]
	}
	return units
}

// Stats returns a consistent count of units per state.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Total: len(r.units)}
	for _, u := range r.units {
		switch u.State {
		case Available:
			s.Available++
		case Assigned:
			s.Assigned++
		case Completed:
			s.Completed++
		}
		if u.Found {
			s.Found++
		}
		if u.TimeoutCount > 0 {
			s.Retried++
			s.Timeouts += uint64(u.TimeoutCount)
		}
	}
	return s
}

// Len returns the number of units. It is fixed at creation.
func (r *Registry) Len() int {
	return len(r.units)
}

// Step returns the width of every unit.
func (r *Registry) Step() uint64 {
	return r.step
}

// LeaseTimeout returns the expiry Acquire applies before selecting.
func (r *Registry) LeaseTimeout() time.Duration {
	return r.leaseTimeout
}

package coordinator

import (
	"fmt"
	"time"

	"lukechampine.com/uint128"
)

// UnitState is the lease state of a WorkUnit.
type UnitState int

const (
	// Available units may be leased by the next GET_WORK.
	Available UnitState = iota
	// Assigned units are leased to a worker until completion or expiry.
	Assigned
	// Completed units are retired. No transition leaves this state.
	Completed
)

func (s UnitState) String() string {
	switch s {
	case Available:
		return "available"
	case Assigned:
		return "assigned"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// ParseUnitState parses the name produced by UnitState.String.
func ParseUnitState(name string) (UnitState, error) {
	for _, s := range []UnitState{Available, Assigned, Completed} {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown unit state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s UnitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WorkUnit is one leasable range [RangeStart, RangeStart+step) together with
// its lease state.
//
// Values handed out by the Registry are copies. Mutation happens only inside
// the registry's critical section through the unexported transition methods.
type WorkUnit struct {
	// AssignedAt is when the current lease began. Zero unless Assigned.
	AssignedAt time.Time

	// RangeStart is the inclusive lower bound and the unit's key.
	RangeStart uint128.Uint128

	// AssignedTo identifies the lease holder (the worker's peer address).
	// Empty unless Assigned.
	AssignedTo string

	// State is exactly one of Available, Assigned, Completed.
	State UnitState

	// TimeoutCount counts how often a lease on this unit expired.
	// It never decreases.
	TimeoutCount uint32

	// Found is set when the unit was retired by a RESULT rather than RESULT_EMPTY.
	Found bool

	step uint64
}

// RangeEnd returns the exclusive upper bound.
func (u WorkUnit) RangeEnd() uint128.Uint128 {
	return u.RangeStart.Add64(u.step)
}

func (u *WorkUnit) expired(now time.Time, timeout time.Duration) bool {
	return u.State == Assigned && now.Sub(u.AssignedAt) > timeout
}

func (u *WorkUnit) assign(workerID string, now time.Time) {
	u.State = Assigned
	u.AssignedAt = now
	u.AssignedTo = workerID
}

func (u *WorkUnit) reclaim() {
	u.State = Available
	u.AssignedAt = time.Time{}
	u.AssignedTo = ""
	u.TimeoutCount++
}

func (u *WorkUnit) complete(found bool) {
	u.State = Completed
	u.AssignedAt = time.Time{}
	u.AssignedTo = ""
	u.Found = found
}

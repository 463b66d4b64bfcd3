package coordinator

import (
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"lukechampine.com/uint128"
)

// Solution is a verified RESULT.
type Solution struct {
	FoundAt      time.Time
	Number       uint128.Uint128
	RangeStart   uint128.Uint128
	Combined     string
	Hash         string
	Peer         string
	TimeoutCount uint32 // unit's timeout count when it was retired
}

// SolutionLog keeps every distinct verified solution in arrival order.
type SolutionLog struct {
	entries []Solution
	mu      sync.RWMutex
}

// NewSolutionLog returns an empty log.
func NewSolutionLog() *SolutionLog {
	return &SolutionLog{}
}

// Record appends s unless a solution with the same number is already
// present. It reports whether s was added.
func (l *SolutionLog) Record(s Solution) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if slices.ContainsFunc(l.entries, func(e Solution) bool { return e.Number.Equals(s.Number) }) {
		return false
	}
	l.entries = append(l.entries, s)
	return true
}

// All returns a copy of the recorded solutions.
func (l *SolutionLog) All() []Solution {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.entries)
}

// Len returns the number of recorded solutions.
func (l *SolutionLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

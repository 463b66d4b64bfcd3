package pow

import (
	"context"
	"errors"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"lukechampine.com/uint128"
)

var (
	// ErrInvalidRange is returned when end is before start.
	ErrInvalidRange = errors.New("range end precedes range start")
	// ErrRangeTooLarge is returned when a range cannot be enumerated by one search.
	ErrRangeTooLarge = errors.New("range too large for a single search")
)

const (
	defaultChunkSize        = 4096
	defaultProgressEvery    = 1_000_000
	defaultProgressInterval = 5 * time.Second
)

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	// OnProgress is called at most once per ProgressInterval, each time the
	// engine-wide candidate count crosses a multiple of ProgressEvery.
	OnProgress func(Progress)

	// Parallelism is the number of scanning goroutines. Default: GOMAXPROCS.
	Parallelism int

	// ChunkSize is how many consecutive candidates a goroutine claims at once.
	ChunkSize uint64

	// ProgressEvery is the candidate count between progress checkpoints.
	ProgressEvery uint64

	// ProgressInterval is the minimum time between two OnProgress calls.
	ProgressInterval time.Duration
}

// Progress is passed to Options.OnProgress.
type Progress struct {
	Current uint128.Uint128 // last candidate of the chunk that crossed the checkpoint
	Checked uint64          // candidates checked by this engine so far
}

// Match is a candidate whose digest carries the required zero prefix.
type Match struct {
	Combined string
	Digest   string
	Number   uint128.Uint128
}

// Result is the outcome of one Search. Match is nil when the range held no
// qualifying candidate.
type Result struct {
	Match   *Match
	Checked uint64
	Elapsed time.Duration
}

// Engine scans ranges for qualifying candidates. An Engine is safe for
// concurrent use; its total counter spans every Search it has run.
type Engine struct {
	oracle     Oracle
	opts       Options
	total      atomic.Uint64
	lastReport atomic.Int64
}

// NewEngine returns an Engine that hashes candidates with oracle.
func NewEngine(oracle Oracle, opts Options) *Engine {
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.ProgressEvery == 0 {
		opts.ProgressEvery = defaultProgressEvery
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = defaultProgressInterval
	}
	return &Engine{oracle: oracle, opts: opts}
}

// TotalChecked returns the number of candidates hashed across all searches.
func (e *Engine) TotalChecked() uint64 {
	return e.total.Load()
}

// Search examines every integer in [start, end) until one qualifies.
//
// If several candidates qualify, any one of them may be returned. Without a
// match every candidate is hashed exactly once. A canceled context aborts the
// scan and its error is returned unless a match was already found.
func (e *Engine) Search(ctx context.Context, start, end uint128.Uint128, seed string, zeros int) (Result, error) {
	began := time.Now()
	if end.Cmp(start) < 0 {
		return Result{}, ErrInvalidRange
	}
	span := end.Sub(start)
	chunk := e.opts.ChunkSize
	workers := uint64(e.opts.Parallelism)
	// the shared cursor may overshoot by one chunk per goroutine
	if span.Hi != 0 || span.Lo > math.MaxUint64-workers*chunk {
		return Result{}, ErrRangeTooLarge
	}
	total := span.Lo

	var (
		cursor  atomic.Uint64
		checked atomic.Uint64
		found   atomic.Pointer[Match]
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.opts.Parallelism; i++ {
		g.Go(func() error {
			for {
				if found.Load() != nil {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				off := cursor.Add(chunk) - chunk
				if off >= total {
					return nil
				}
				n := min(chunk, total-off)
				base := start.Add64(off)

				for j := uint64(0); j < n; j++ {
					cand := base.Add64(j)
					combined, digest := e.oracle.Hash(seed, cand)
					if HasZeroPrefix(digest, zeros) {
						e.account(&checked, j+1, cand)
						found.CompareAndSwap(nil, &Match{Number: cand, Combined: combined, Digest: digest})
						return nil
					}
				}
				e.account(&checked, n, base.Add64(n-1))
			}
		})
	}

	err := g.Wait()
	res := Result{Match: found.Load(), Checked: checked.Load(), Elapsed: time.Since(began)}
	if res.Match != nil {
		return res, nil
	}
	return res, err
}

func (e *Engine) account(checked *atomic.Uint64, n uint64, current uint128.Uint128) {
	checked.Add(n)
	after := e.total.Add(n)
	before := after - n
	every := e.opts.ProgressEvery
	if e.opts.OnProgress == nil || before/every == after/every {
		return
	}

	now := time.Now().UnixNano()
	last := e.lastReport.Load()
	if last != 0 && now-last < int64(e.opts.ProgressInterval) {
		return
	}
	if e.lastReport.CompareAndSwap(last, now) {
		e.opts.OnProgress(Progress{Checked: after, Current: current})
	}
}

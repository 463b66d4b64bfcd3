// Package worker implements the worker side of the proof-of-work search: a
// Session connects to the coordinator, leases ranges, scans them with a
// pow.Engine and reports what it found.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/uint128"

	"github.com/dreamware/powlease/internal/logging"
	"github.com/dreamware/powlease/internal/pow"
	"github.com/dreamware/powlease/internal/protocol"
)

// Config holds the parameters of one worker session.
type Config struct {
	// CoordAddr is the coordinator's host:port.
	CoordAddr string

	// Seed and ZeroPrefix must match the coordinator's.
	Seed       string
	ZeroPrefix int

	// Step is the width of every leased range. The coordinator only sends
	// range starts, so both sides must agree on it.
	Step uint64

	// MaxRetries caps connection attempts. RetryDelay is the first backoff,
	// doubled after every failure up to MaxRetryDelay.
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	// WaitDelay is how long to sleep after a WAIT reply.
	WaitDelay time.Duration

	// IOTimeout bounds every socket read and write. Zero disables it.
	IOTimeout time.Duration

	// Search tuning, passed to pow.Options.
	Parallelism      int
	ProgressEvery    uint64
	ProgressInterval time.Duration

	// StopOnFound ends the session after the first reported match.
	StopOnFound bool
}

// Totals counts what a session has done so far.
type Totals struct {
	Leases  int
	Found   int
	Empty   int
	Waits   int
	Checked uint64
}

// DialFunc opens a connection to the coordinator.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Option customises a Session.
type Option func(*Session)

// WithLogger sets the session's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = logging.OrNop(l) }
}

// WithDialer replaces the TCP dialer.
func WithDialer(d DialFunc) Option {
	return func(s *Session) { s.dial = d }
}

// WithOracle replaces the SHA-256 oracle used by the search engine.
func WithOracle(o pow.Oracle) Option {
	return func(s *Session) { s.oracle = o }
}

// Session drives one worker from connect to NO_WORK. It is not safe for
// concurrent use; run one Session per goroutine.
type Session struct {
	oracle pow.Oracle
	engine *pow.Engine
	dial   DialFunc
	logger *slog.Logger
	conn   *protocol.LineConn
	id     string
	cfg    Config
	totals Totals
}

// NewSession validates cfg and returns an unconnected Session.
func NewSession(cfg Config, opts ...Option) (*Session, error) {
	switch {
	case cfg.CoordAddr == "":
		return nil, errors.New("coordinator address is required")
	case cfg.Step == 0:
		return nil, errors.New("step must be > 0")
	case cfg.ZeroPrefix < 1 || cfg.ZeroPrefix > pow.DigestLen:
		return nil, fmt.Errorf("zero prefix %d out of range [1, %d]", cfg.ZeroPrefix, pow.DigestLen)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = cfg.RetryDelay
	}

	var d net.Dialer
	s := &Session{
		oracle: pow.SHA256Oracle{},
		dial:   d.DialContext,
		logger: logging.Nop(),
		id:     uuid.NewString(),
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id)
	s.engine = pow.NewEngine(s.oracle, pow.Options{
		Parallelism:      cfg.Parallelism,
		ProgressEvery:    cfg.ProgressEvery,
		ProgressInterval: cfg.ProgressInterval,
		OnProgress: func(p pow.Progress) {
			s.logger.Info("search progress", "checked", p.Checked, "current", p.Current.String())
		},
	})
	return s, nil
}

// ID returns the session's random identifier, used in log lines.
func (s *Session) ID() string { return s.id }

// Totals returns the session's counters.
func (s *Session) Totals() Totals {
	t := s.totals
	t.Checked = s.engine.TotalChecked()
	return t
}

// Connect dials the coordinator, retrying with exponential backoff. After
// MaxRetries failed attempts it returns a *ConnectionError.
func (s *Session) Connect(ctx context.Context) error {
	delay := s.cfg.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		conn, err := s.dial(ctx, "tcp", s.cfg.CoordAddr)
		if err == nil {
			s.conn = protocol.NewLineConn(conn, s.cfg.IOTimeout)
			s.logger.Info("connected to coordinator", "addr", s.cfg.CoordAddr, "attempt", attempt)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == s.cfg.MaxRetries {
			break
		}

		s.logger.Warn("connect failed, retrying",
			"addr", s.cfg.CoordAddr,
			"attempt", attempt,
			"max_retries", s.cfg.MaxRetries,
			"backoff", delay,
			"err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, s.cfg.MaxRetryDelay)
	}

	return &ConnectionError{Addr: s.cfg.CoordAddr, Attempts: s.cfg.MaxRetries, Err: lastErr}
}

// Run leases and scans ranges until the coordinator replies NO_WORK, in
// which case it returns nil. It connects first if Connect was not called.
//
// Any I/O failure ends the session with an error. Work in flight is not
// re-leased; the coordinator reclaims it once the lease expires. A canceled
// context aborts the current scan and Run returns the context's error.
func (s *Session) Run(ctx context.Context) error {
	if s.conn == nil {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}
	defer s.close()

	began := time.Now()
	defer func() {
		t := s.Totals()
		s.logger.Info("worker session finished",
			"leases", t.Leases,
			"found", t.Found,
			"empty", t.Empty,
			"waits", t.Waits,
			"checked", t.Checked,
			"elapsed", time.Since(began))
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		reply, err := s.requestWork()
		if err != nil {
			return err
		}

		switch reply.Kind {
		case protocol.NoWork:
			s.logger.Info("coordinator has no work left")
			return nil

		case protocol.Wait:
			s.totals.Waits++
			s.logger.Debug("all ranges leased, waiting", "delay", s.cfg.WaitDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.WaitDelay):
			}

		case protocol.Lease:
			found, err := s.scan(ctx, reply.RangeStart)
			if err != nil {
				return err
			}
			if found && s.cfg.StopOnFound {
				s.logger.Info("match reported, stopping")
				return nil
			}
		}
	}
}

func (s *Session) requestWork() (protocol.Reply, error) {
	if err := s.conn.WriteLine(protocol.NewGetWork().String()); err != nil {
		return protocol.Reply{}, fmt.Errorf("send %s: %w", protocol.CmdGetWork, err)
	}
	line, err := s.conn.ReadLine()
	if err != nil {
		if errors.Is(err, protocol.ErrMalformed) {
			return protocol.Reply{}, fmt.Errorf("%w: %v", ErrUnexpectedReply, err)
		}
		return protocol.Reply{}, fmt.Errorf("read reply: %w", err)
	}
	reply, err := protocol.ParseReply(line)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
	}
	return reply, nil
}

// scan searches one leased range and reports the outcome. It returns
// whether a match was sent.
func (s *Session) scan(ctx context.Context, start uint128.Uint128) (bool, error) {
	if start.Cmp(uint128.Max.Sub64(s.cfg.Step)) > 0 {
		return false, fmt.Errorf("%w: range start %s overflows", ErrUnexpectedReply, start)
	}
	end := start.Add64(s.cfg.Step)
	s.totals.Leases++
	log := s.logger.With("range_start", start.String(), "range_end", end.String())
	log.Info("lease received")

	res, err := s.engine.Search(ctx, start, end, s.cfg.Seed, s.cfg.ZeroPrefix)
	if err != nil {
		return false, fmt.Errorf("search %s: %w", start, err)
	}

	if m := res.Match; m != nil {
		s.totals.Found++
		log.Info("match found",
			"combined", m.Combined,
			"number", m.Number.String(),
			"hash", m.Digest,
			"checked", res.Checked,
			"elapsed", res.Elapsed)
		if err := s.conn.WriteLine(protocol.NewResult(m.Combined, m.Number, m.Digest).String()); err != nil {
			return false, fmt.Errorf("send %s: %w", protocol.CmdResult, err)
		}
		return true, nil
	}

	s.totals.Empty++
	log.Info("range exhausted", "checked", res.Checked, "elapsed", res.Elapsed)
	if err := s.conn.WriteLine(protocol.NewResultEmpty(start, end).String()); err != nil {
		return false, fmt.Errorf("send %s: %w", protocol.CmdResultEmpty, err)
	}
	return false, nil
}

func (s *Session) close() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

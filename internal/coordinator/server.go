package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/powlease/internal/logging"
	"github.com/dreamware/powlease/internal/pow"
	"github.com/dreamware/powlease/internal/protocol"
)

// ServerConfig holds the fixed parameters of the lease protocol.
type ServerConfig struct {
	// Seed is the text every candidate is appended to. RESULT lines are
	// verified against it.
	Seed string

	// ZeroPrefix is the number of leading '0' hex digits a digest needs.
	ZeroPrefix int

	// IOTimeout bounds every socket read and write. Zero disables it.
	IOTimeout time.Duration
}

// Server speaks the lease protocol on behalf of a Registry. Every accepted
// connection gets its own session goroutine; all sessions share the
// registry's lock and nothing else.
type Server struct {
	registry  *Registry
	oracle    pow.Oracle
	solutions *SolutionLog
	metrics   *Metrics
	logger    *slog.Logger
	conns     map[net.Conn]struct{}
	cfg       ServerConfig
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logging.OrNop(l) }
}

// WithMetrics makes the server record protocol activity.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithOracle replaces the SHA-256 oracle used to verify RESULT lines.
func WithOracle(o pow.Oracle) ServerOption {
	return func(s *Server) { s.oracle = o }
}

// WithSolutionLog shares a solution log with the caller.
func WithSolutionLog(l *SolutionLog) ServerOption {
	return func(s *Server) { s.solutions = l }
}

// NewServer returns a Server leasing units from registry.
func NewServer(registry *Registry, cfg ServerConfig, opts ...ServerOption) *Server {
	s := &Server{
		registry:  registry,
		oracle:    pow.SHA256Oracle{},
		solutions: NewSolutionLog(),
		logger:    logging.Nop(),
		conns:     make(map[net.Conn]struct{}),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the registry the server leases from.
func (s *Server) Registry() *Registry { return s.registry }

// Solutions returns the log of verified results.
func (s *Server) Solutions() *SolutionLog { return s.solutions }

// Serve accepts connections on ln until ctx is canceled, then closes the
// listener and every open session and waits for the sessions to return.
// It returns nil after a cancellation and the accept error otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
			s.closeSessions()
		case <-stop:
		}
	}()

	s.logger.Info("lease server listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept timed out", "err", err)
				continue
			}
			s.closeSessions()
			s.wg.Wait()
			return err
		}

		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.HandleConn(conn)
		}()
	}
}

// HandleConn runs one protocol session on conn until the peer disconnects,
// an I/O error occurs, or NO_WORK has been sent. It closes conn on return.
//
// Malformed lines are logged and skipped; they never end the session.
func (s *Server) HandleConn(conn net.Conn) {
	lc := protocol.NewLineConn(conn, s.cfg.IOTimeout)
	defer lc.Close()

	peer := lc.RemoteAddr()
	log := s.logger.With("session", uuid.NewString(), "peer", peer)
	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	log.Info("worker connected")

	for {
		line, err := lc.ReadLine()
		if err != nil {
			switch {
			case errors.Is(err, protocol.ErrMalformed):
				log.Warn("dropping malformed request", "err", err)
				s.metrics.ProtocolError("malformed")
				continue
			case errors.Is(err, io.EOF):
				log.Info("worker disconnected")
			case errors.Is(err, net.ErrClosed):
				log.Debug("session closed by server")
			default:
				log.Warn("session read failed", "err", err)
			}
			return
		}

		req, err := protocol.ParseRequest(line)
		if err != nil {
			log.Warn("dropping malformed request", "line", line, "err", err)
			s.metrics.ProtocolError("malformed")
			continue
		}

		reply, done := s.dispatch(log, peer, req)
		if reply != nil {
			if err := lc.WriteLine(reply.String()); err != nil {
				log.Warn("session write failed", "err", err)
				return
			}
		}
		if done {
			log.Info("no work left, closing session")
			return
		}
	}
}

// dispatch applies one request to the registry. It returns the reply to send,
// if any, and whether the session should end.
func (s *Server) dispatch(log *slog.Logger, peer string, req protocol.Request) (*protocol.Reply, bool) {
	switch req.Kind {
	case protocol.GetWork:
		return s.handleGetWork(log, peer)
	case protocol.Result:
		s.handleResult(log, peer, req)
	case protocol.ResultEmpty:
		s.handleResultEmpty(log, req)
	}
	return nil, false
}

// maxRetriedLogged caps the retried units listed in the debug status line.
const maxRetriedLogged = 10

// retriedSummary renders units as "rangeStart:timeoutCount".
func retriedSummary(units []WorkUnit) []string {
	out := make([]string, 0, len(units))
	for _, u := range units {
		out = append(out, fmt.Sprintf("%s:%d", u.RangeStart, u.TimeoutCount))
	}
	return out
}

func (s *Server) handleGetWork(log *slog.Logger, peer string) (*protocol.Reply, bool) {
	out := s.registry.Acquire(peer)
	for _, rc := range out.Reclaimed {
		log.Info("lease expired, unit returned to pool",
			"range_start", rc.RangeStart.String(),
			"holder", rc.Holder,
			"timeout_count", rc.TimeoutCount)
	}
	s.metrics.LeasesReclaimed(len(out.Reclaimed))

	switch out.Status {
	case Leased:
		s.metrics.LeaseGranted()
		s.metrics.Reply("lease")
		log.Info("lease granted",
			"range_start", out.RangeStart.String(),
			"range_end", out.RangeEnd.String(),
			"timeout_count", out.TimeoutCount)
		if log.Enabled(context.Background(), slog.LevelDebug) {
			st := s.registry.Stats()
			log.Debug("registry status",
				"completed", st.Completed,
				"assigned", st.Assigned,
				"available", st.Available,
				"retried", st.Retried,
				"most_retried", retriedSummary(s.registry.MostRetried(maxRetriedLogged)))
		}
		return &protocol.Reply{Kind: protocol.Lease, RangeStart: out.RangeStart}, false

	case Busy:
		s.metrics.Reply("wait")
		log.Debug("all units leased, worker told to wait")
		return &protocol.Reply{Kind: protocol.Wait}, false

	default:
		s.metrics.Reply("no_work")
		log.Info("all units completed, sending NO_WORK")
		return &protocol.Reply{Kind: protocol.NoWork}, true
	}
}

func (s *Server) handleResult(log *slog.Logger, peer string, req protocol.Request) {
	if err := pow.Verify(s.oracle, s.cfg.Seed, s.cfg.ZeroPrefix, req.Combined, req.Number, req.Hash); err != nil {
		log.Warn("rejecting result", "number", req.Number.String(), "err", err)
		s.metrics.ProtocolError("invalid_proof")
		return
	}

	// workers only report numbers from their own lease
	base := s.registry.BaseRange(req.Number)
	unit, retired, err := s.registry.CompleteUnit(base, true)
	if err != nil {
		log.Warn("result does not belong to any unit", "number", req.Number.String(), "err", err)
		s.metrics.ProtocolError("unknown_lease")
		return
	}
	if retired {
		s.metrics.UnitCompleted(true)
	}
	if unit.State == Assigned && unit.AssignedTo != peer {
		log.Debug("result reported by a worker other than the lease holder", "holder", unit.AssignedTo)
	}

	s.solutions.Record(Solution{
		FoundAt:      time.Now(),
		Number:       req.Number,
		RangeStart:   base,
		Combined:     req.Combined,
		Hash:         req.Hash,
		Peer:         peer,
		TimeoutCount: unit.TimeoutCount,
	})
	log.Info("solution found",
		"combined", req.Combined,
		"number", req.Number.String(),
		"hash", req.Hash,
		"range_start", base.String(),
		"range_end", unit.RangeEnd().String(),
		"timeout_count", unit.TimeoutCount,
		"duplicate", !retired)
}

func (s *Server) handleResultEmpty(log *slog.Logger, req protocol.Request) {
	if req.RangeEnd.Cmp(req.RangeStart) <= 0 || !req.RangeEnd.Sub(req.RangeStart).Equals64(s.registry.Step()) {
		log.Warn("empty result range does not match unit size",
			"range_start", req.RangeStart.String(),
			"range_end", req.RangeEnd.String(),
			"step", s.registry.Step())
	}

	retired, err := s.registry.Complete(req.RangeStart, false)
	if err != nil {
		log.Warn("empty result for unknown unit", "range_start", req.RangeStart.String(), "err", err)
		s.metrics.ProtocolError("unknown_lease")
		return
	}
	if !retired {
		log.Debug("duplicate empty result", "range_start", req.RangeStart.String())
		return
	}
	s.metrics.UnitCompleted(false)
	log.Info("range exhausted without match",
		"range_start", req.RangeStart.String(),
		"range_end", req.RangeEnd.String())
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

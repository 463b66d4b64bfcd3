package coordinator

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slices"

	"github.com/dreamware/powlease/internal/cluster"
)

// AdminHandler returns the coordinator's HTTP status surface:
// /health, /units, /solutions and, when gatherer is non-nil, /metrics.
func (s *Server) AdminHandler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/units", s.handleUnits)
	mux.HandleFunc("/solutions", s.handleSolutions)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// handleUnits returns the registry snapshot, optionally filtered by ?state=.
// With ?retried=true only units that timed out are listed, highest
// TimeoutCount first.
func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var states []UnitState
	if v := r.URL.Query().Get("state"); v != "" {
		st, err := ParseUnitState(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		states = append(states, st)
	}

	var units []WorkUnit
	retried := false
	if v := r.URL.Query().Get("retried"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "retried must be a boolean", http.StatusBadRequest)
			return
		}
		retried = b
	}
	if retried {
		// units that timed out at least once, most timeouts first
		units = slices.DeleteFunc(s.registry.MostRetried(-1), func(u WorkUnit) bool {
			return len(states) > 0 && !slices.Contains(states, u.State)
		})
	} else {
		units = s.registry.Snapshot(states...)
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		if len(units) > limit {
			units = units[:limit]
		}
	}

	st := s.registry.Stats()
	report := cluster.StatusReport{
		Step:         s.registry.Step(),
		LeaseTimeout: s.registry.LeaseTimeout().String(),
		Stats: cluster.UnitStats{
			Total:     st.Total,
			Available: st.Available,
			Assigned:  st.Assigned,
			Completed: st.Completed,
			Found:     st.Found,
			Retried:   st.Retried,
			Timeouts:  st.Timeouts,
		},
		Units: make([]cluster.UnitStatus, 0, len(units)),
	}
	for _, u := range units {
		us := cluster.UnitStatus{
			RangeStart:   u.RangeStart.String(),
			RangeEnd:     u.RangeEnd().String(),
			State:        u.State.String(),
			AssignedTo:   u.AssignedTo,
			TimeoutCount: u.TimeoutCount,
			Found:        u.Found,
		}
		if u.State == Assigned {
			at := u.AssignedAt
			us.AssignedAt = &at
		}
		report.Units = append(report.Units, us)
	}

	writeJSON(w, report)
}

func (s *Server) handleSolutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	all := s.solutions.All()
	report := cluster.SolutionsReport{Solutions: make([]cluster.SolutionInfo, 0, len(all))}
	for _, sol := range all {
		report.Solutions = append(report.Solutions, cluster.SolutionInfo{
			FoundAt:      sol.FoundAt,
			Combined:     sol.Combined,
			Number:       sol.Number.String(),
			Hash:         sol.Hash,
			Peer:         sol.Peer,
			RangeStart:   sol.RangeStart.String(),
			TimeoutCount: sol.TimeoutCount,
		})
	}
	writeJSON(w, report)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

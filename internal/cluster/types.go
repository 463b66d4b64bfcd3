package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// UnitStats counts units per lease state.
type UnitStats struct {
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Assigned  int    `json:"assigned"`
	Completed int    `json:"completed"`
	Found     int    `json:"found"`
	Retried   int    `json:"retried"`
	Timeouts  uint64 `json:"timeouts"`
}

// UnitStatus describes one work unit.
type UnitStatus struct {
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	RangeStart   string     `json:"range_start"`
	RangeEnd     string     `json:"range_end"`
	State        string     `json:"state"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	TimeoutCount uint32     `json:"timeout_count"`
	Found        bool       `json:"found,omitempty"`
}

// StatusReport is the body of GET /units.
type StatusReport struct {
	LeaseTimeout string       `json:"lease_timeout"`
	Units        []UnitStatus `json:"units"`
	Stats        UnitStats    `json:"stats"`
	Step         uint64       `json:"step"`
}

// SolutionInfo describes one verified result.
type SolutionInfo struct {
	FoundAt      time.Time `json:"found_at"`
	Combined     string    `json:"combined"`
	Number       string    `json:"number"`
	Hash         string    `json:"hash"`
	Peer         string    `json:"peer"`
	RangeStart   string    `json:"range_start"`
	TimeoutCount uint32    `json:"timeout_count"`
}

// SolutionsReport is the body of GET /solutions.
type SolutionsReport struct {
	Solutions []SolutionInfo `json:"solutions"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// GetJSON fetches url and decodes the JSON body into out. Any status of 300
// or above is an error.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

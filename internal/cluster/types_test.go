package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUnitStatusJSON verifies field names and that empty lease fields are omitted.
func TestUnitStatusJSON(t *testing.T) {
	data, err := json.Marshal(UnitStatus{
		RangeStart: "0",
		RangeEnd:   "100",
		State:      "available",
	})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "0", m["range_start"])
	assert.Equal(t, "100", m["range_end"])
	assert.Equal(t, "available", m["state"])
	assert.NotContains(t, m, "assigned_to")
	assert.NotContains(t, m, "assigned_at")
	assert.NotContains(t, m, "found")
}

// TestGetJSON decodes a status report served by a test server.
func TestGetJSON(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(StatusReport{
			Step:         100,
			LeaseTimeout: "30s",
			Stats:        UnitStats{Total: 1, Assigned: 1},
			Units: []UnitStatus{{
				RangeStart: "0", RangeEnd: "100", State: "assigned",
				AssignedTo: "127.0.0.1:5000", AssignedAt: &now,
			}},
		})
	}))
	defer srv.Close()

	var report StatusReport
	require.NoError(t, GetJSON(context.Background(), srv.URL, &report))

	assert.Equal(t, uint64(100), report.Step)
	assert.Equal(t, 1, report.Stats.Assigned)
	require.Len(t, report.Units, 1)
	assert.Equal(t, "127.0.0.1:5000", report.Units[0].AssignedTo)
	require.NotNil(t, report.Units[0].AssignedAt)
	assert.True(t, now.Equal(*report.Units[0].AssignedAt))
}

// TestGetJSONErrorStatus verifies that error statuses are reported.
func TestGetJSONErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	var out StatusReport
	err := GetJSON(context.Background(), srv.URL, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestGetJSONUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var out StatusReport
	assert.Error(t, GetJSON(ctx, "http://127.0.0.1:1/units", &out))
}

// Package cluster holds the JSON documents served by the coordinator's admin
// HTTP endpoint and a small client for reading them.
//
// # Endpoints
//
//	GET /health            200 when the coordinator is up
//	GET /units[?state=s]   StatusReport, optionally filtered by unit state
//	GET /solutions         SolutionsReport
//	GET /metrics           Prometheus exposition
//
// Numbers are rendered as decimal strings because ranges are 128-bit values
// and do not survive a round trip through a JSON float.
//
// # Example
//
//	var report cluster.StatusReport
//	err := cluster.GetJSON(ctx, "http://127.0.0.1:22901/units?state=assigned", &report)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d of %d units completed\n", report.Stats.Completed, report.Stats.Total)
package cluster

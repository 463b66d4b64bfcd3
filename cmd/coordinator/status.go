package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dreamware/powlease/internal/cluster"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show work unit and solution status from a running coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			admin, _ := f.GetString("admin")
			state, _ := f.GetString("state")
			limit, _ := f.GetInt("limit")
			asJSON, _ := f.GetBool("json")
			retried, _ := f.GetBool("retried")
			all, _ := f.GetBool("all")
			if all || (retried && !f.Changed("state")) {
				state = ""
			}

			q := url.Values{}
			if retried {
				q.Set("retried", "true")
			}
			if state != "" {
				q.Set("state", state)
			}
			if limit >= 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			base := "http://" + admin

			var report cluster.StatusReport
			if err := cluster.GetJSON(cmd.Context(), base+"/units?"+q.Encode(), &report); err != nil {
				return fmt.Errorf("fetch units: %w", err)
			}
			var sols cluster.SolutionsReport
			if err := cluster.GetJSON(cmd.Context(), base+"/solutions", &sols); err != nil {
				return fmt.Errorf("fetch solutions: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Units     cluster.StatusReport    `json:"units"`
					Solutions cluster.SolutionsReport `json:"solutions"`
				}{report, sols})
			}

			s := report.Stats
			fmt.Fprintf(out, "units: %d total, %d completed, %d assigned, %d available (%d retried, %d timeouts)\n",
				s.Total, s.Completed, s.Assigned, s.Available, s.Retried, s.Timeouts)
			fmt.Fprintf(out, "step: %d  lease timeout: %s  solutions: %d\n\n", report.Step, report.LeaseTimeout, len(sols.Solutions))

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANGE START\tRANGE END\tSTATE\tHOLDER\tAGE\tTIMEOUTS")
			for _, u := range report.Units {
				age := "-"
				if u.AssignedAt != nil {
					age = time.Since(*u.AssignedAt).Truncate(time.Second).String()
				}
				holder := u.AssignedTo
				if holder == "" {
					holder = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", u.RangeStart, u.RangeEnd, u.State, holder, age, u.TimeoutCount)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			for _, sol := range sols.Solutions {
				fmt.Fprintf(out, "\nsolution %s  %s  %s  (from %s)\n", sol.Number, sol.Combined, sol.Hash, sol.Peer)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.String("admin", getenv("POW_ADMIN_ADDR", "127.0.0.1:22901"), "coordinator admin address")
	f.String("state", "assigned", "only show units in this state (available, assigned, completed)")
	f.Bool("all", false, "show units in every state")
	f.Bool("retried", false, "only show units whose lease expired, most timeouts first")
	f.Int("limit", 50, "maximum units to list, negative for all")
	f.Bool("json", false, "print raw JSON")
	return cmd
}

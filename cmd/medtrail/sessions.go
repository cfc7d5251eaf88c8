package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/medtrail-ai/medtrail/pkg/telemetry"
)

func newSessionsCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded telemetry sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			store, err := telemetry.NewStore(cfg.UsageDBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if sessionID != "" {
				return printSessionCalls(store, sessionID)
			}

			sessions, err := store.ListSessions(limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions recorded.")
				return nil
			}

			var b strings.Builder
			w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSTARTED\tLAST ACTIVITY\tCALLS\tTOKENS\tEST. COST")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t$%.6f\n",
					s.ID,
					s.StartedAt.Format("2006-01-02 15:04:05"),
					s.LastActivity.Format("2006-01-02 15:04:05"),
					s.CallCount, s.TotalTokens, s.TotalCostUSD)
			}
			w.Flush()
			fmt.Print(b.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to medtrail config file")
	cmd.Flags().StringVar(&sessionID, "session", "", "show the calls of one session")
	cmd.Flags().IntVar(&limit, "limit", 20, "max sessions to list")

	return cmd
}

func printSessionCalls(store *telemetry.Store, sessionID string) error {
	calls, err := store.SessionCalls(sessionID)
	if err != nil {
		return err
	}
	if len(calls) == 0 {
		fmt.Printf("No calls recorded for session %s.\n", sessionID)
		return nil
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CALL\tTIME\tMODEL\tAGENT\tTOKENS\tLATENCY\tCOST\tSTATUS")
	for _, c := range calls {
		status := "ok"
		if !c.Success {
			status = "failed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.0fms\t$%.6f\t%s\n",
			c.CallID,
			c.Timestamp.Format("15:04:05"),
			c.Model, orDash(c.AgentName),
			c.TotalTokens, c.LatencyMS, c.EstimatedCostUSD, status)
	}
	w.Flush()
	fmt.Print(b.String())
	return nil
}

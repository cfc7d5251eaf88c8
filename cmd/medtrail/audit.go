package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/medtrail-ai/medtrail/pkg/audit"
	"github.com/medtrail-ai/medtrail/pkg/models"
	"github.com/medtrail-ai/medtrail/pkg/phi"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the audit event index",
	}

	cmd.AddCommand(
		newAuditSearchCmd(),
		newAuditStatsCmd(),
		newAuditCleanupCmd(),
	)
	return cmd
}

func openAuditStore(configPath string) (*audit.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return audit.NewStore(cfg.Audit.DBPath, cfg.Audit.Retention)
}

func newAuditSearchCmd() *cobra.Command {
	var (
		configPath  string
		eventType   string
		agent       string
		correlation string
		patientID   string
		session     string
		since       string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAuditStore(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			opts := models.AuditQueryOpts{
				EventType:     models.EventType(eventType),
				AgentName:     agent,
				CorrelationID: correlation,
				SessionID:     session,
				Limit:         limit,
			}
			if patientID != "" {
				// The index holds hashes only; hash the raw id client side.
				opts.PatientIDHash = phi.Hash(patientID)
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := store.Query(opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to medtrail config file")
	cmd.Flags().StringVar(&eventType, "event-type", "", "filter by event type (e.g. PHI_ACCESS)")
	cmd.Flags().StringVar(&agent, "agent", "", "filter by agent name")
	cmd.Flags().StringVar(&correlation, "correlation-id", "", "filter by correlation ID")
	cmd.Flags().StringVar(&patientID, "patient-id", "", "filter by raw patient ID (hashed before querying)")
	cmd.Flags().StringVar(&session, "session", "", "filter by session ID")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")

	return cmd
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit events found.\n"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tEVENT\tLEVEL\tAGENT\tPATIENT\tCORRELATION\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.EventType, e.Level,
			orDash(e.AgentName), orDash(e.PatientIDHash), orDash(shorten(e.CorrelationID, 8)),
			e.Message)
	}
	w.Flush()
	return b.String()
}

func newAuditStatsCmd() *cobra.Command {
	var (
		configPath string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show event counts by type and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAuditStore(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stats, err := store.Stats(time.Now().UTC().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Println("No audit events found.")
				return nil
			}

			var b strings.Builder
			w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DAY\tEVENT\tCOUNT")
			for _, st := range stats {
				fmt.Fprintf(w, "%s\t%s\t%d\n", st.Day, st.EventType, st.Count)
			}
			w.Flush()
			fmt.Print(b.String())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to medtrail config file")
	cmd.Flags().IntVar(&days, "days", 30, "number of days to cover")

	return cmd
}

func newAuditCleanupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete indexed events past their retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAuditStore(configPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			removed, err := store.Cleanup()
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d expired audit events.\n", removed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to medtrail config file")

	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

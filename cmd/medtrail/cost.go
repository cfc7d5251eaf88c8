package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/medtrail-ai/medtrail/pkg/budget"
	"github.com/medtrail-ai/medtrail/pkg/models"
	"github.com/medtrail-ai/medtrail/pkg/telemetry"
)

func newCostCmd() *cobra.Command {
	var (
		configPath string
		since      string
		budgets    bool
	)

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show estimated LLM costs by agent and model",
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

			sinceTime := beginningOfMonth()
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				sinceTime = t
			}

			usage, err := store.UsageByAgent(sinceTime)
			if err != nil {
				return err
			}
			fmt.Print(formatUsageTable(usage))

			if budgets && cfg.Budget.Enabled {
				statuses, err := budget.NewEnforcer(store, cfg.Budget.Policies).Status()
				if err != nil {
					return err
				}
				fmt.Print(formatBudgetTable(statuses))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to medtrail config file")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")
	cmd.Flags().BoolVar(&budgets, "budgets", false, "also show budget policy status")

	return cmd
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func formatUsageTable(usage []models.AgentUsage) string {
	if len(usage) == 0 {
		return "No usage data found.\n"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tMODEL\tCALLS\tTOKENS\tEST. COST")
	var totalCost float64
	for _, u := range usage {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t$%.6f\n",
			orDash(u.AgentName), u.Model, u.CallCount, u.TotalTokens, u.EstimatedCostUSD)
		totalCost += u.EstimatedCostUSD
	}
	fmt.Fprintf(w, "\t\t\tTOTAL:\t$%.6f\n", totalCost)
	w.Flush()
	return b.String()
}

func formatBudgetTable(statuses []models.BudgetStatus) string {
	if len(statuses) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tMODEL\tCAP\tUSED\tREMAINING")
	for _, s := range statuses {
		model := s.Policy.Model
		if model == "" {
			model = "(any)"
		}
		fmt.Fprintf(w, "%s\t%s\t$%.2f\t$%.4f\t$%.4f\n",
			s.Policy.Agent, model, s.Policy.MaxCostUSD, s.UsedUSD, s.Remaining)
	}
	w.Flush()
	return b.String()
}

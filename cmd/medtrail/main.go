package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/medtrail-ai/medtrail/pkg/config"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "medtrail",
		Short:   "MedTrail: audit trail and LLM telemetry for clinical AI agents",
		Version: version,
	}

	root.AddCommand(
		newAuditCmd(),
		newCostCmd(),
		newSessionsCmd(),
		newScanCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

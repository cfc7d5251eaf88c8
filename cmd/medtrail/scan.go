package main

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "scan <patient-id> [<patient-id>...]",
		Short: "Scan log files for raw patient identifiers",
		Long: `Scan reads every log file, including rotated backups, and reports any
line containing one of the given raw patient identifiers. Identifiers must
only ever appear as hashes, so any hit is a leak.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			var hits int
			err = filepath.WalkDir(cfg.LogsDir, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				n, err := scanFile(path, args)
				hits += n
				return err
			})
			if err != nil {
				return err
			}

			if hits > 0 {
				return fmt.Errorf("found %d line(s) containing raw patient identifiers", hits)
			}
			fmt.Println("No raw patient identifiers found.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to medtrail config file")

	return cmd
}

func scanFile(path string, ids []string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var hits int
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lineNo := 1; sc.Scan(); lineNo++ {
		for _, id := range ids {
			if strings.Contains(sc.Text(), id) {
				fmt.Fprintf(os.Stderr, "%s:%d: contains %q\n", path, lineNo, id)
				hits++
				break
			}
		}
	}
	if err := sc.Err(); err != nil {
		return hits, fmt.Errorf("scan %s: %w", path, err)
	}
	return hits, nil
}

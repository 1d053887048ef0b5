package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/runvault/pkg/daemon/registry"
	"github.com/jamesainslie/runvault/pkg/runvault/config"
)

var runsFailedOnly bool

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded run outcomes",
	Long: `List the outcome of every run session the monitor has recorded:
run identifier, status, file counts, container count, and when the
session finished.

Examples:
  runvault runs
  runvault runs --failed
  runvault runs rm /data/staging/run42`,
	RunE: runRunsList,
}

var runsRmCmd = &cobra.Command{
	Use:   "rm <run-dir>",
	Short: "Remove a recorded run outcome",
	Long: `Remove the recorded outcome for a run path. The next time the monitor
sees the folder it is treated as new.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunsRm,
}

func init() {
	runsCmd.Flags().BoolVar(&runsFailedOnly, "failed", false, "show only failed runs")
	runsCmd.AddCommand(runsRmCmd)
	rootCmd.AddCommand(runsCmd)
}

// openRegistry opens the run registry at its configured path.
func openRegistry() (*registry.Registry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	reg, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run registry (held by a running runvaultd?): %w", err)
	}
	return reg, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	records, err := reg.List()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if runsFailedOnly {
		var failed []*registry.Record
		for _, rec := range records {
			if rec.Status == registry.StatusFailed {
				failed = append(failed, rec)
			}
		}
		records = failed
	}

	if len(records) == 0 {
		printInfo("No recorded runs.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tSEEN\tPUBLISHED\tERRORED\tCONTAINERS\tFINISHED\tPATH")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			rec.RunID,
			rec.Status,
			rec.FilesSeen,
			rec.FilesPublished,
			rec.FilesErrored,
			rec.Containers,
			humanize.Time(time.Unix(rec.UpdatedAt, 0)),
			rec.Path)
	}
	return w.Flush()
}

func runRunsRm(cmd *cobra.Command, args []string) error {
	reg, err := openRegistry()
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	path := args[0]
	if _, err := reg.Get(path); err != nil {
		return fmt.Errorf("no recorded run for %s", path)
	}

	if err := reg.Delete(path); err != nil {
		return fmt.Errorf("failed to remove run record: %w", err)
	}

	printInfo("Removed run record for %s", path)
	return nil
}

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/sosmon/pkg/sosmon/config"
	"github.com/jamesainslie/sosmon/pkg/sosmon/history"
	"github.com/jamesainslie/sosmon/pkg/sosmon/journal"
	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View past runs",
	Long: `View the journal of past checks.

Every check records what it measured, which disks were low, what was done
about them and which alerts were mailed.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show details of a specific run",
	Long:  `Display one run by its ID or a unique prefix of it.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old runs and usage samples",
	Long:  `Remove journal entries and usage samples older than their retention periods.`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var historyDiskCmd = &cobra.Command{
	Use:   "disk [path]",
	Short: "Show recorded usage of one disk",
	Long: `Show the usage samples recorded for a disk, oldest first.

Without a path, list the disks that have samples.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistoryDisk,
}

var (
	historyLimit int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyDiskCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of samples to show")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	historyCmd.AddCommand(historyDiskCmd)
	rootCmd.AddCommand(historyCmd)
}

// getJournal returns the run journal in the configured directory.
func getJournal(cfg *config.Config) (*journal.Journal, error) {
	return journal.New(afero.NewOsFs(), cfg.JournalDir(), nil)
}

// runHistory lists recent runs.
func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := getJournal(cfg)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	entries, err := j.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(entries) == 0 {
		printInfo("No runs recorded.")
		printInfo("Run 'sosmon check' to record one.")
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%-38s  %-5s  %-5s  %-4s  %-6s  %s\n", "ID", "SITE", "DISKS", "LOW", "ALERTS", "EXIT")
	fmt.Fprintln(out, strings.Repeat("-", 80))

	for _, e := range entries {
		fmt.Fprintf(out, "%-38s  %-5s  %-5d  %-4d  %-6d  %d\n",
			truncateString(e.ID, 38),
			orUnknown(e.Site),
			len(e.Disks),
			len(e.Low),
			len(e.Alerts),
			e.ExitCode,
		)
	}

	fmt.Fprintln(out, strings.Repeat("-", 80))
	fmt.Fprintf(out, "\nShowing %d entries. Use --limit to see more.\n", len(entries))
	fmt.Fprintln(out, "Use 'sosmon history show <id>' for details on a specific run.")
	return nil
}

// runHistoryShow displays one run.
func runHistoryShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	j, err := getJournal(cfg)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	e, err := j.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\nRun Details")
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "ID:        %s\n", e.ID)
	fmt.Fprintf(out, "Site:      %s\n", orUnknown(e.Site))
	fmt.Fprintf(out, "Started:   %s\n", e.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "Duration:  %s\n", e.Duration().Round(time.Millisecond))
	fmt.Fprintf(out, "Exit code: %d\n", e.ExitCode)
	if e.FailedStage != "" {
		fmt.Fprintf(out, "Failed at: %s\n", e.FailedStage)
	}
	fmt.Fprintf(out, "Mailed:    %t\n", e.EmailSent)

	if len(e.Disks) > 0 {
		fmt.Fprintln(out, "\nDisks:")
		fmt.Fprintln(out, strings.Repeat("-", 60))
		fmt.Fprintf(out, "%-10s  %-10s  %s\n", "TOTAL", "FREE", "PATH")
		fmt.Fprintln(out, strings.Repeat("-", 60))
		for _, d := range e.Disks {
			fmt.Fprintf(out, "%-10s  %-10s  %s\n", types.FormatGB(d.TotalGB), types.FormatGB(d.AvailableGB), d.Path)
		}
	}

	if len(e.Outcomes) > 0 {
		fmt.Fprintln(out, "\nRemediation:")
		for _, o := range e.Outcomes {
			fmt.Fprintf(out, "  %s: %s", o.Disk.Name(), o.Kind)
			if o.Detail != "" {
				fmt.Fprintf(out, " (%s)", o.Detail)
			}
			fmt.Fprintln(out)
		}
	}

	if len(e.Alerts) > 0 {
		fmt.Fprintln(out, "\nAlerts:")
		for _, a := range e.Alerts {
			fmt.Fprintf(out, "  %s\n", a)
		}
	}
	return nil
}

// runHistoryClean removes entries past their retention.
func runHistoryClean(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	j, err := getJournal(cfg)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	runs := 0
	if cfg.Journal.RetentionDays > 0 {
		if runs, err = j.Cleanup(cfg.Journal.RetentionDays); err != nil {
			return fmt.Errorf("failed to clean journal: %w", err)
		}
	}

	samples := 0
	if cfg.History.Enabled && cfg.History.RetentionDays > 0 {
		store, err := history.Open(cfg.HistoryDBPath())
		if err != nil {
			return fmt.Errorf("failed to open usage history: %w", err)
		}
		defer func() { _ = store.Close() }()

		cutoff := time.Now().AddDate(0, 0, -cfg.History.RetentionDays)
		if samples, err = store.Prune(cutoff); err != nil {
			return fmt.Errorf("failed to prune usage history: %w", err)
		}
	}

	printInfo("Removed %d runs and %d usage samples.", runs, samples)
	return nil
}

// runHistoryDisk prints the samples of one disk, or lists sampled disks.
func runHistoryDisk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := history.Open(cfg.HistoryDBPath())
	if err != nil {
		return fmt.Errorf("failed to open usage history: %w", err)
	}
	defer func() { _ = store.Close() }()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		disks, err := store.Disks()
		if err != nil {
			return err
		}
		for _, d := range disks {
			fmt.Fprintln(out, d)
		}
		return nil
	}

	samples, err := store.Samples(args[0], historyLimit)
	if errors.Is(err, history.ErrNoSamples) {
		printInfo("No samples recorded for %s.", args[0])
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%-20s  %-10s  %-10s  %-10s\n", "MEASURED", "TOTAL", "USED", "FREE")
	fmt.Fprintln(out, strings.Repeat("-", 60))
	for _, s := range samples {
		fmt.Fprintf(out, "%-20s  %-10s  %-10s  %-10s\n",
			s.At.Local().Format("2006-01-02 15:04"),
			types.FormatGB(s.TotalGB),
			types.FormatGB(s.UsedGB),
			types.FormatGB(s.AvailableGB),
		)
	}
	return nil
}

// truncateString shortens a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

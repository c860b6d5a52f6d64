package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/sosmon/pkg/sosmon/config"
	"github.com/jamesainslie/sosmon/pkg/sosmon/history"
	"github.com/jamesainslie/sosmon/pkg/sosmon/journal"
	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
	"github.com/jamesainslie/sosmon/pkg/sosmon/monitor"
	"github.com/jamesainslie/sosmon/pkg/sosmon/types"
)

var (
	refreshInventory bool
	addSize          bool
	testMode         bool
	noEmail          bool
	noWebCheck       bool
	refreshSite      bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a full disk check",
	Long: `Run a full disk check for this host's site.

The check takes the run lock, loads the site snapshot, checks the site's
web interface, refreshes the disk inventory when it is stale, measures
every disk and writes the usage CSV. Disks at or below the threshold are
reported; with --add-size they are grown by the configured amount unless
they were grown recently. Every warning of the run is mailed at the end.

The exit status is 1 when any warning was raised.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	addCheckFlags(checkCmd)
	rootCmd.AddCommand(checkCmd)
}

// addCheckFlags registers the check flags on cmd. Both the root command
// and "check" accept them.
func addCheckFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&refreshInventory, "disk-refresh", "r", false, "rebuild the disk inventory even if it is fresh")
	cmd.Flags().BoolVarP(&addSize, "add-size", "a", false, "grow low disks by the configured add_size_gb")
	cmd.Flags().BoolVarP(&testMode, "test-mode", "t", false, "run against the DDM test site")
	cmd.Flags().BoolVar(&noEmail, "no-email", false, "do not mail alerts")
	cmd.Flags().BoolVar(&noWebCheck, "no-web-check", false, "skip the site web check")
	cmd.Flags().BoolVar(&refreshSite, "refresh-site", false, "derive the site snapshot again")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mon := newMonitor(cfg)

	res := mon.Run(ctx, monitor.Options{
		RefreshInventory: refreshInventory,
		RefreshSite:      refreshSite,
		Resize:           addSize,
		TestMode:         testMode,
		NoEmail:          noEmail,
		NoWebCheck:       noWebCheck,
	})

	printSummary(cmd, res)
	if res.ExitCode != monitor.ExitOK {
		return &exitError{code: res.ExitCode}
	}
	return nil
}

// newMonitor builds a monitor that opens the history store and run
// journal, when enabled, only after the run lock is held. A store that
// cannot be opened is logged and left out; the check still runs.
func newMonitor(cfg *config.Config, opts ...monitor.Option) *monitor.Monitor {
	if cfg.History.Enabled {
		opts = append(opts, monitor.WithHistoryOpener(func() (*history.Store, error) {
			return history.Open(cfg.HistoryDBPath())
		}))
	}
	if cfg.Journal.Enabled {
		opts = append(opts, monitor.WithJournalOpener(func() (*journal.Journal, error) {
			return journal.New(afero.NewOsFs(), cfg.JournalDir(), nil)
		}))
	}
	return monitor.New(cfg, opts...)
}

func printSummary(cmd *cobra.Command, res *monitor.Result) {
	if quiet {
		return
	}
	out := cmd.OutOrStdout()

	site := res.Site
	if site == "" {
		site = "unknown"
	}
	fmt.Fprintf(out, "Site %s: %d disks measured, %d low\n", site, len(res.Records), len(res.Low))
	for _, o := range res.Outcomes {
		if o.NewSizeGB > 0 {
			fmt.Fprintf(out, "  %s: %s to %s\n", o.Disk.Name(), o.Kind, types.FormatGB(o.NewSizeGB))
			continue
		}
		fmt.Fprintf(out, "  %s: %s\n", o.Disk.Name(), o.Kind)
	}
	if len(res.Alerts) == 0 {
		return
	}

	mailed := ""
	if res.EmailSent {
		mailed = " (mailed)"
	}
	fmt.Fprintf(out, "%d alerts%s\n", len(res.Alerts), mailed)
	for _, line := range logging.Lines(res.Alerts) {
		fmt.Fprintf(out, "  %s\n", line)
	}
}

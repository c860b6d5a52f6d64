package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sosmon/pkg/sosmon/inventory"
	"github.com/jamesainslie/sosmon/pkg/sosmon/monitor"
	"github.com/jamesainslie/sosmon/pkg/sosmon/report"
)

var (
	usageFormat    string
	usageThreshold int64
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Measure the inventoried disks without remediating",
	Long: `Measure every disk in the inventory and print the result.

Nothing is resized, mailed or written; use this to see where a site stands
between checks. Disks at or below the threshold are marked low.

Examples:
  sosmon usage
  sosmon usage --format json
  sosmon usage --threshold 500`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().StringVarP(&usageFormat, "format", "f", "table",
		"output format ("+strings.Join(report.Available(), ", ")+")")
	usageCmd.Flags().Int64Var(&usageThreshold, "threshold", 0, "free space threshold in GB (default from config)")
	usageCmd.Flags().BoolVarP(&testMode, "test-mode", "t", false, "use the DDM test site")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, _ []string) error {
	formatter, err := report.Get(usageFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("threshold") {
		cfg.ThresholdGB = usageThreshold
	}

	mon := monitor.New(cfg)
	sc, err := loadSite(cmd, mon, false)
	if err != nil {
		return err
	}
	inv, err := mon.Inventory(sc)
	if err != nil {
		return err
	}
	paths, err := inv.Read()
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: run 'sosmon inventory refresh' first", inventory.ErrNoInventory)
	}
	if err != nil {
		return err
	}

	res := &report.Result{
		Site:        sc.Code(),
		ThresholdGB: cfg.ThresholdGB,
		GeneratedAt: time.Now(),
	}
	// Disks that cannot be measured are listed as warnings, not failures.
	res.Disks, _, err = mon.Evaluate(cmd.Context(), paths)
	if err != nil {
		res.Warnings = strings.Split(err.Error(), "\n")
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, res); err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/sosmon/pkg/sosmon/forecast"
	"github.com/jamesainslie/sosmon/pkg/sosmon/history"
)

// cliClock supplies "now" to the calculators.
var cliClock clock.Clock = clock.WallClock

var (
	forecastYear      int
	forecastThreshold int64
)

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Project storage growth",
}

var forecastMonthlyCmd = &cobra.Command{
	Use:   "monthly <initial> <percent> <from-month> <to-month>",
	Short: "Grow a value by a percentage every month",
	Long: `Grow a value by a fixed percentage every month, compounding, and print
the value reached in each month from from-month through to-month.

Months are numbered 1-12. When to-month is not after from-month the range
runs into the following year.

Example:
  sosmon forecast monthly 105.5 2.5 3 12`,
	Args: cobra.ExactArgs(4),
	RunE: runForecastMonthly,
}

var forecastDiskCmd = &cobra.Command{
	Use:   "disk <path>",
	Short: "Estimate when a disk runs low from its recorded usage",
	Long: `Fit a straight line to the free space recorded for a disk and report
how fast it is shrinking and when it will reach the threshold.`,
	Args: cobra.ExactArgs(1),
	RunE: runForecastDisk,
}

func init() {
	forecastMonthlyCmd.Flags().IntVar(&forecastYear, "year", 0, "year of the start month (default: current year)")
	forecastDiskCmd.Flags().Int64Var(&forecastThreshold, "threshold", 0, "free space threshold in GB (default from config)")

	forecastCmd.AddCommand(forecastMonthlyCmd)
	forecastCmd.AddCommand(forecastDiskCmd)
	rootCmd.AddCommand(forecastCmd)
}

func runForecastMonthly(cmd *cobra.Command, args []string) error {
	initial, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid initial value %q: %w", args[0], err)
	}
	pct, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid percentage %q: %w", args[1], err)
	}
	from, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid from-month %q: %w", args[2], err)
	}
	to, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("invalid to-month %q: %w", args[3], err)
	}

	year := forecastYear
	if year == 0 {
		year = cliClock.Now().Year()
	}

	projections, err := forecast.Monthly(initial, pct, from, to, year)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range projections {
		fmt.Fprintf(out, "%s: %.2f\n", p.Label(), p.Value)
	}
	return nil
}

func runForecastDisk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	threshold := cfg.ThresholdGB
	if cmd.Flags().Changed("threshold") {
		threshold = forecastThreshold
	}

	store, err := history.Open(cfg.HistoryDBPath())
	if err != nil {
		return fmt.Errorf("failed to open usage history: %w", err)
	}
	defer func() { _ = store.Close() }()

	samples, err := store.Samples(args[0], 0)
	if err != nil {
		return err
	}

	points := make([]forecast.Point, 0, len(samples))
	for _, s := range samples {
		points = append(points, forecast.Point{At: s.At, Value: float64(s.AvailableGB)})
	}
	trend, err := forecast.Fit(points)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	return printTrend(cmd, args[0], trend, threshold)
}

func printTrend(cmd *cobra.Command, path string, trend forecast.Trend, threshold int64) error {
	out := cmd.OutOrStdout()
	now := cliClock.Now()

	fmt.Fprintf(out, "Disk:      %s\n", path)
	fmt.Fprintf(out, "Samples:   %d since %s\n", trend.Points, trend.Origin.Local().Format("2006-01-02"))
	fmt.Fprintf(out, "Trend:     %+.1f GB/day\n", trend.PerDay)
	fmt.Fprintf(out, "Free now:  %.0f GB (fitted)\n", trend.At(now))

	when, ok := trend.Reaches(float64(threshold))
	switch {
	case !ok:
		fmt.Fprintf(out, "Threshold: %d GB not reached at the current trend\n", threshold)
	case !when.After(now):
		fmt.Fprintf(out, "Threshold: %d GB already reached\n", threshold)
	default:
		fmt.Fprintf(out, "Threshold: %d GB around %s (%s)\n",
			threshold, when.Local().Format("2006-01-02"), humanize.RelTime(when, now, "ago", "from now"))
	}
	return nil
}

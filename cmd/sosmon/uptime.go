package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/sosmon/pkg/sosmon/forecast"
)

var uptimeCmd = &cobra.Command{
	Use:   "uptime <services> <hits> <lost-hours>",
	Short: "Compute this month's service uptime percentage",
	Long: `Compute the uptime percentage of the current month.

The potential uptime is services x days in the month x 24 hours; the
downtime is the number of impacted services times the hours each lost.

Example:
  sosmon uptime 399 38 5`,
	Args: cobra.ExactArgs(3),
	RunE: runUptime,
}

func init() {
	rootCmd.AddCommand(uptimeCmd)
}

func runUptime(cmd *cobra.Command, args []string) error {
	names := []string{"services", "hits", "lost-hours"}
	nums := make([]int, len(args))
	for i, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", names[i], arg, err)
		}
		nums[i] = n
	}

	u, err := forecast.CalculateUptime(nums[0], nums[1], nums[2], cliClock.Now())
	if err != nil {
		return err
	}

	lines := u.Lines()
	longest := lo.MaxBy(lines, func(a, b string) bool { return len(a) > len(b) })
	decor := strings.Repeat("-", len(longest))

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, decor)
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, decor)
	return nil
}

package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/sosmon/pkg/sosmon/monitor"
	"github.com/jamesainslie/sosmon/pkg/sosmon/runlock"
)

var inventoryCmd = &cobra.Command{
	Use:     "inventory",
	Aliases: []string{"inv"},
	Short:   "Inspect or rebuild the disk inventory",
	Long: `Inspect or rebuild the cached list of disks behind the site's SOS services.

The inventory is rebuilt by a check when it is older than inventory.max_age.
Use "inventory refresh" to rebuild it now.`,
}

var inventoryShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List the disks in the inventory",
	Args:  cobra.NoArgs,
	RunE:  runInventoryShow,
}

var inventoryRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the inventory from the SOS services",
	Long: `Rebuild the inventory from the SOS services.

The run lock is taken so that the rebuild cannot race a scheduled check.`,
	Args: cobra.NoArgs,
	RunE: runInventoryRefresh,
}

var inventoryPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the inventory file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		code, err := monitor.New(cfg).SiteCode(testMode)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cfg.InventoryPath(code))
		return nil
	},
}

func init() {
	inventoryCmd.PersistentFlags().BoolVarP(&testMode, "test-mode", "t", false, "use the DDM test site")
	inventoryCmd.AddCommand(inventoryShowCmd)
	inventoryCmd.AddCommand(inventoryRefreshCmd)
	inventoryCmd.AddCommand(inventoryPathCmd)
	rootCmd.AddCommand(inventoryCmd)
}

func runInventoryShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
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
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, p := range paths {
		fmt.Fprintln(out, p)
	}
	if !quiet {
		age, err := inv.Age()
		if err == nil {
			fmt.Fprintf(out, "\n%d disks, built %s\n", len(paths), humanize.Time(time.Now().Add(-age)))
		}
	}
	return nil
}

func runInventoryRefresh(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lock, err := runlock.Acquire(cfg.LockFile)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	mon := monitor.New(cfg)
	sc, err := loadSite(cmd, mon, false)
	if err != nil {
		return err
	}
	inv, err := mon.Inventory(sc)
	if err != nil {
		return err
	}

	if _, err := inv.EnsureFresh(cmd.Context(), true); err != nil {
		return err
	}
	paths, err := inv.Read()
	if err != nil {
		return err
	}
	printInfo("Inventory rebuilt: %d disks written to %s", len(paths), inv.Path())
	return nil
}

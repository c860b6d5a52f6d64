package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sosmon/pkg/sosmon/monitor"
	"github.com/jamesainslie/sosmon/pkg/sosmon/site"
)

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Show or refresh the site snapshot",
	Long: `Show or refresh the saved description of this host's SOS site.

The snapshot records the site name and URL reported by sosmgr, the
servers directory, and whether this host is a repository or a replica.
It is derived on first use and reused afterwards.`,
}

var siteShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the site snapshot, deriving it if missing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return showSite(cmd, false)
	},
}

var siteRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Derive the site snapshot again and save it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return showSite(cmd, true)
	},
}

func init() {
	siteCmd.PersistentFlags().BoolVarP(&testMode, "test-mode", "t", false, "use the DDM test site")
	siteCmd.AddCommand(siteShowCmd)
	siteCmd.AddCommand(siteRefreshCmd)
	rootCmd.AddCommand(siteCmd)
}

func showSite(cmd *cobra.Command, refresh bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mon := monitor.New(cfg)
	sc, err := loadSite(cmd, mon, refresh)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Site:         %s\n", sc.SiteName)
	fmt.Fprintf(out, "Code:         %s\n", sc.Code())
	fmt.Fprintf(out, "URL:          %s\n", sc.SiteURL)
	fmt.Fprintf(out, "Role:         %s\n", sc.ServerRole)
	fmt.Fprintf(out, "Servers dir:  %s\n", sc.ServersDir)
	fmt.Fprintf(out, "Cliosoft dir: %s\n", sc.CliosoftDir)
	fmt.Fprintf(out, "Snapshot:     %s\n", cfg.SnapshotPath(sc.Code()))
	return nil
}

// loadSite resolves the site code for this host (or the test site) and
// returns its snapshot.
func loadSite(cmd *cobra.Command, mon *monitor.Monitor, refresh bool) (site.Context, error) {
	code, err := mon.SiteCode(testMode)
	if err != nil {
		return site.Context{}, err
	}
	return mon.Site(cmd.Context(), code, refresh)
}

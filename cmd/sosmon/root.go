package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/sosmon/pkg/sosmon/config"
	"github.com/jamesainslie/sosmon/pkg/sosmon/logging"
)

var (
	cfgFile string
	verbose bool
	quiet   bool

	rootCmd = &cobra.Command{
		Use:   "sosmon",
		Short: "Monitor Cliosoft SOS disk space",
		Long: `Sosmon watches the disks behind the Cliosoft SOS services of a site.

Without a subcommand it runs a full check: it refreshes the disk inventory
when it is older than a day, measures every disk, warns about disks at or
below the free space threshold, optionally asks stod to grow them, writes
the usage CSV and mails every warning of the run.

Examples:
  sosmon                     # Check the disks of this host's site
  sosmon -a                  # Check and grow low disks
  sosmon -r -t --no-email    # Rebuild the inventory on the test site
  sosmon usage --format json # Measure disks without remediating
  sosmon history             # List past runs`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCheck,
	}
)

// exitError carries a process exit code without an error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/sosmon/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "minimal output")

	addCheckFlags(rootCmd)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	_ = logging.Close()
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	printError("%v", err)
	return 1
}

// loadConfig reads the configuration and starts logging. Console output
// follows --verbose and --quiet; the log file follows the config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.LoggingConfig()
	switch {
	case verbose:
		logCfg.ConsoleLevel = "debug"
	case quiet:
		logCfg.ConsoleLevel = ""
	default:
		logCfg.ConsoleLevel = "warn"
	}
	if err := logging.Init(logCfg); err != nil {
		printError("logging disabled: %v", err)
	}
	return cfg, nil
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

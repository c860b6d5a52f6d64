package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/sosmon/pkg/sosmon/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage sosmon configuration settings.

Configuration is loaded from:
  1. --config, when given
  2. $XDG_CONFIG_HOME/sosmon/config.yaml
  3. /etc/sosmon/config.yaml

Environment variables can override config file settings using the SOSMON_ prefix:
  SOSMON_THRESHOLD_GB=500
  SOSMON_EMAIL_ENABLED=true
  LOG_LEVEL=debug`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after files and environment are applied.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultConfigPath()
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow displays the current configuration.
func runConfigShow(cmd *cobra.Command, _ []string) error {
	v := config.NewViper(cfgFile)
	cfg, err := config.LoadViper(v)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.File != "" {
		fmt.Fprintf(out, "Config file: %s\n\n", cfg.File)
	} else {
		fmt.Fprint(out, "Config file: (using defaults, no file found)\n\n")
	}

	settings := v.AllSettings()
	if email, ok := settings["email"].(map[string]interface{}); ok {
		if pw, _ := email["password"].(string); pw != "" {
			email["password"] = "********"
		}
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// runConfigInit creates a default configuration file.
func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	created, err := config.WriteDefault(path)
	if err != nil {
		return err
	}
	if !created {
		printInfo("Configuration file already exists: %s", path)
		return nil
	}
	printInfo("Created configuration file: %s", path)
	return nil
}

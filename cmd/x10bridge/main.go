// X10 Bridge - CM11A powerline gateway for Gray Logic
//
// This is the entry point for the x10bridge binary. It drives a CM11A
// serial interface and exposes the X10 powerline over MQTT:
//   - serve:     run the bridge daemon
//   - send:      transmit one function and exit
//   - migrate:   inspect or roll back the address database schema
//   - addresses: list addresses seen on the powerline
//   - version:   print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-x10/internal/infrastructure/config"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar names the environment variable consulted when --config is not given.
const configEnvVar = "X10BRIDGE_CONFIG"

func main() {
	// Cancel on Ctrl+C / SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Commands read their context from
// cmd.Context(), so tests can drive them with ExecuteContext.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "x10bridge",
		Short: "X10 CM11A powerline bridge",
		Long: `x10bridge drives a CM11A serial interface and bridges the X10 powerline to MQTT.

Configuration is read from --config, else the X10BRIDGE_CONFIG environment
variable, else configs/config.yaml. X10BRIDGE_* variables override file values.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml")

	cfgPath := func() string { return resolveConfigPath(configPath) }

	root.AddCommand(
		newServeCmd(cfgPath),
		newSendCmd(cfgPath),
		newMigrateCmd(cfgPath),
		newAddressesCmd(cfgPath),
		newVersionCmd(),
	)
	return root
}

// resolveConfigPath picks the flag value, then the environment, then the default.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the configuration at path.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "x10bridge %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

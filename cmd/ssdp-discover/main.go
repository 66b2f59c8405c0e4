// Ssdp-discover finds UPnP services on the local network with SSDP.
//
// It sends an M-SEARCH to the SSDP multicast group, listens for replies and
// announcements, and shows every service once per session. Results can be
// printed once (scan), followed live in a terminal UI (watch), or published
// to other tools over HTTP and websocket (serve).
//
// Usage:
//
//	ssdp-discover [command] [flags]
//
// See 'ssdp-discover --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/muurk/discovery/internal/config"
	"github.com/muurk/discovery/internal/logging"
	"github.com/muurk/discovery/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	logLevel   string
	bufferSize int
	noUnicast  bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "ssdp-discover",
	Short: "SSDP service discovery",
	Long: `Discover UPnP services on the local network using SSDP.

ssdp-discover sends an M-SEARCH for all services to 239.255.255.250:1900,
listens on the multicast group for replies and announcements, and reports
each service once per session.

Preferences and service nicknames are read from the configuration file
(see 'ssdp-discover config path').`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(logLevel); err != nil {
			return err
		}
		if configPath != "" {
			config.SetConfigPath(configPath)
		}
		return nil
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); defaults to $"+logging.LogLevelEnvVar)
	rootCmd.PersistentFlags().IntVar(&bufferSize, "buffer-size", 0, "Receive buffer size in bytes (default from config, 512)")
	rootCmd.PersistentFlags().BoolVar(&noUnicast, "no-unicast", false, "Only read the multicast socket, ignore replies sent to the query socket")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Fprintf(cmd.OutOrStdout(), "ssdp-discover %s (commit: %s, %s, %s)\n",
			info.Version, info.Commit, info.GoVersion, info.Platform)
	},
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/muurk/discovery/internal/config"
	"github.com/muurk/discovery/internal/discovery"
	"github.com/muurk/discovery/internal/logging"
	"github.com/muurk/discovery/internal/server"
	"github.com/muurk/discovery/internal/ssdp"
	"github.com/muurk/discovery/internal/tui"
)

// Command flags
var (
	scanTimeout  int
	outputFormat string
	remember     bool

	watchInterval int

	serveListen    string
	serveAdvertise bool
	serveInterval  int

	feedsTimeout int
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(feedsCmd)
}

// startEngine builds an engine from the registry preferences and the global
// flags and starts its receive loops. The caller must Shutdown it.
func startEngine(cmd *cobra.Command) (*discovery.Engine, *config.Registry, error) {
	registry, err := config.LoadRegistry()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := registry.DiscoveryConfig()
	if cmd.Flags().Changed("buffer-size") {
		cfg.BufferSize = bufferSize
	}
	if noUnicast {
		cfg.ReadUnicastReplies = false
	}

	engine, err := discovery.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sockets: %w", err)
	}
	if err := engine.StartListening(); err != nil {
		engine.Shutdown()
		return nil, nil, fmt.Errorf("failed to start listening: %w", err)
	}
	return engine, registry, nil
}

func stopEngine(engine *discovery.Engine) {
	if err := engine.Shutdown(); err != nil {
		logging.Warn("Engine shutdown reported errors", zap.Error(err))
	}
}

// scanCmd collects services for a fixed time and prints them
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Search for services and print them",
	Long: `Send one M-SEARCH, collect replies and announcements for the timeout,
then print every service found.

Services whose replies are malformed are skipped. With --remember the
services are stored in the configuration file so they can be given
nicknames.`,
	Example: `  # Scan for 5 seconds (default from config)
  ssdp-discover scan

  # Longer scan with JSON output for scripting
  ssdp-discover scan --timeout 15 --format json

  # Store what was found
  ssdp-discover scan --remember`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 0, "Scan timeout in seconds (default from config, 5)")
	scanCmd.Flags().StringVar(&outputFormat, "format", "text", "Output format (text, json)")
	scanCmd.Flags().BoolVar(&remember, "remember", false, "Store found services in the config file")
}

func runScan(cmd *cobra.Command, args []string) error {
	if outputFormat != "text" && outputFormat != "json" {
		return fmt.Errorf("unknown format %q (use text or json)", outputFormat)
	}

	engine, registry, err := startEngine(cmd)
	if err != nil {
		return err
	}
	defer stopEngine(engine)

	timeout := registry.Preferences.ScanDuration()
	if scanTimeout > 0 {
		timeout = time.Duration(scanTimeout) * time.Second
	}

	if outputFormat == "text" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Searching for services (timeout: %s)...\n", timeout)
	}

	if err := <-engine.Broadcast(); err != nil {
		return fmt.Errorf("failed to send M-SEARCH: %w", err)
	}

	select {
	case <-time.After(timeout):
	case <-cmd.Context().Done():
	}

	services := engine.Snapshot()

	if remember && len(services) > 0 {
		for _, rec := range services {
			registry.Remember(rec)
		}
		if err := registry.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
	}

	if outputFormat == "json" {
		return printJSON(cmd.OutOrStdout(), services)
	}
	printServices(cmd.OutOrStdout(), registry, services, time.Now())
	return nil
}

func printJSON(w io.Writer, services []ssdp.ServiceRecord) error {
	if services == nil {
		services = []ssdp.ServiceRecord{}
	}
	data, err := json.MarshalIndent(services, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// printServices lists services for a person to read. Records whose
// advertisement has lapsed at now are marked expired.
func printServices(w io.Writer, names tui.Namer, services []ssdp.ServiceRecord, now time.Time) {
	if len(services) == 0 {
		fmt.Fprintln(w, "No services found.")
		fmt.Fprintln(w, "\nTroubleshooting:")
		fmt.Fprintln(w, "  - Check that multicast is allowed on this network")
		fmt.Fprintln(w, "  - Make sure a firewall does not block UDP port 1900")
		fmt.Fprintln(w, "  - Try increasing --timeout")
		return
	}

	fmt.Fprintf(w, "Found %d service(s):\n\n", len(services))
	for i, rec := range services {
		fmt.Fprintf(w, "%d. %s\n", i+1, names.DisplayName(rec))
		fmt.Fprintf(w, "   USN:      %s\n", rec.USN)
		fmt.Fprintf(w, "   Location: %s\n", rec.Location)
		fmt.Fprintf(w, "   Server:   %s\n", rec.Server)
		expiry := rec.Expiry.Format(time.RFC3339)
		if rec.Expired(now) {
			expiry += " (expired)"
		}
		fmt.Fprintf(w, "   Expires:  %s\n", expiry)
		fmt.Fprintln(w)
	}
}

// watchCmd follows discovery live
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow discovered services live",
	Long: `Search for services and keep listening until interrupted.

On a terminal this opens an interactive list with the raw payload of
each service. Otherwise one line is printed per new service.`,
	Example: `  # Interactive list
  ssdp-discover watch

  # Line output, re-sending M-SEARCH every 30 seconds
  ssdp-discover watch --interval 30 | tee services.log`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchInterval, "interval", -1, "Seconds between M-SEARCH (0 = once; default from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	engine, registry, err := startEngine(cmd)
	if err != nil {
		return err
	}
	defer stopEngine(engine)

	interval := registry.Preferences.RebroadcastDuration()
	if watchInterval >= 0 {
		interval = time.Duration(watchInterval) * time.Second
	}

	if term.IsTerminal(int(os.Stdout.Fd())) {
		return tui.Run(engine, tui.Options{
			Names:               registry,
			RebroadcastInterval: interval,
		})
	}
	return streamServices(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), engine, registry, interval)
}

// streamServices prints one line per event until ctx ends or the engine stops
func streamServices(ctx context.Context, out, errOut io.Writer, engine *discovery.Engine, names tui.Namer, interval time.Duration) error {
	sub := engine.Subscribe()
	defer sub.Close()

	// Subscribed first, so a service may show up in both
	seen := make(map[string]bool)
	for _, rec := range engine.Snapshot() {
		seen[rec.USN] = true
		printServiceLine(out, names, rec)
	}

	if err := <-engine.Broadcast(); err != nil {
		fmt.Fprintf(errOut, "M-SEARCH failed: %v\n", err)
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-tick:
			if err := <-engine.Broadcast(); err != nil {
				fmt.Fprintf(errOut, "M-SEARCH failed: %v\n", err)
			}

		case ev, ok := <-sub.C():
			if !ok {
				return discovery.ErrStopped
			}
			if ev.IsError() {
				fmt.Fprintf(errOut, "receive failed: %v\n", ev.Err)
				continue
			}
			if seen[ev.Record.USN] {
				continue
			}
			seen[ev.Record.USN] = true
			printServiceLine(out, names, ev.Record)
		}
	}
}

func printServiceLine(w io.Writer, names tui.Namer, rec ssdp.ServiceRecord) {
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", names.DisplayName(rec), rec.USN, rec.Server, rec.Location)
}

// serveCmd publishes discovery over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve discovered services over HTTP and websocket",
	Long: `Run discovery continuously and publish the results.

Routes:
  GET  /api/services   JSON snapshot
  POST /api/broadcast  send an M-SEARCH
  POST /api/reset      clear the list and start a new session
  GET  /api/events     websocket event feed
  GET  /metrics        Prometheus metrics

With --advertise the feed is announced over mDNS as _ssdp-feed._tcp so
'ssdp-discover feeds' can find it.`,
	Example: `  # Serve on the configured address (default :8080)
  ssdp-discover serve

  # Announce over mDNS and re-search every minute
  ssdp-discover serve --listen :9000 --advertise --interval 60`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().BoolVar(&serveAdvertise, "advertise", false, "Announce the feed over mDNS")
	serveCmd.Flags().IntVar(&serveInterval, "interval", -1, "Seconds between M-SEARCH (0 = once; default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	engine, registry, err := startEngine(cmd)
	if err != nil {
		return err
	}
	defer stopEngine(engine)

	prefs := registry.Preferences
	cfg := server.Config{
		Listen:              prefs.Listen,
		Advertise:           prefs.Advertise || serveAdvertise,
		RebroadcastInterval: prefs.RebroadcastDuration(),
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if serveInterval >= 0 {
		cfg.RebroadcastInterval = time.Duration(serveInterval) * time.Second
	}

	if err := <-engine.Broadcast(); err != nil {
		logging.Warn("Initial M-SEARCH failed", zap.Error(err))
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Serving discovery feed on %s (Ctrl-C to stop)\n", cfg.Listen)
	return server.New(engine, cfg).Run(cmd.Context())
}

// feedsCmd lists feed servers announced over mDNS
var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Find discovery feeds announced over mDNS",
	Long: `Browse for ssdp-discover feed servers started with 'serve --advertise'.`,
	Example: `  ssdp-discover feeds --timeout 5`,
	RunE:    runFeeds,
}

func init() {
	feedsCmd.Flags().IntVar(&feedsTimeout, "timeout", int(server.DefaultBrowseTimeout/time.Second), "Browse timeout in seconds")
}

func runFeeds(cmd *cobra.Command, args []string) error {
	browser := server.NewBrowser()
	browser.Timeout = time.Duration(feedsTimeout) * time.Second

	feeds, err := browser.BrowseFeeds(cmd.Context())
	if err != nil {
		return fmt.Errorf("browse failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(feeds) == 0 {
		fmt.Fprintln(out, "No feeds found.")
		return nil
	}

	fmt.Fprintf(out, "Found %d feed(s):\n\n", len(feeds))
	for i, feed := range feeds {
		fmt.Fprintf(out, "%d. %s\n", i+1, feed.Instance)
		fmt.Fprintf(out, "   Host:    %s\n", feed.Hostname)
		fmt.Fprintf(out, "   HTTP:    %s\n", feed.BaseURL())
		fmt.Fprintf(out, "   Events:  %s\n", feed.EventsURL())
		if v := feed.GetMetadata("version"); v != "" {
			fmt.Fprintf(out, "   Version: %s\n", v)
		}
		fmt.Fprintln(out)
	}
	return nil
}

package server

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/discovery/internal/logging"
	"github.com/muurk/discovery/internal/version"
)

const (
	// FeedServiceType is the mDNS service type of a discovery feed server
	FeedServiceType = "_ssdp-feed._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultBrowseTimeout is the default time spent looking for feeds
	DefaultBrowseTimeout = 3 * time.Second

	// DefaultFeedPort is assumed when an entry carries no port
	DefaultFeedPort = 8080

	eventsPath = "/api/events"
)

// Feed is a discovery feed server found over mDNS
type Feed struct {
	// Instance is the mDNS instance name (e.g., "ssdp-discover on nas")
	Instance string

	// Hostname is the mDNS hostname (e.g., "nas.local.")
	Hostname string

	// IP is the preferred address (IPv4 when available)
	IP string

	// Port is the HTTP port of the feed
	Port int

	// Metadata contains the TXT record data ("path", "version")
	Metadata map[string]string

	// DiscoveredAt is when the feed was found
	DiscoveredAt time.Time
}

// String returns a human-readable description of the feed
func (f *Feed) String() string {
	return fmt.Sprintf("%s (%s) at %s:%d", f.Instance, f.Hostname, f.IP, f.Port)
}

// BaseURL returns the HTTP base URL of the feed
func (f *Feed) BaseURL() string {
	if strings.Contains(f.IP, ":") {
		return fmt.Sprintf("http://[%s]:%d", f.IP, f.Port)
	}
	return fmt.Sprintf("http://%s:%d", f.IP, f.Port)
}

// EventsURL returns the websocket URL of the event feed
func (f *Feed) EventsURL() string {
	path := f.GetMetadata("path")
	if path == "" {
		path = eventsPath
	}
	return "ws" + strings.TrimPrefix(f.BaseURL(), "http") + path
}

// GetMetadata retrieves a TXT value by key, or returns empty string if not found
func (f *Feed) GetMetadata(key string) string {
	if f.Metadata == nil {
		return ""
	}
	return f.Metadata[key]
}

// Advertiser keeps the feed server registered over mDNS
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise registers a feed server listening on port. An empty instance
// name is derived from the hostname.
func Advertise(instance string, port int) (*Advertiser, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "unknown"
		}
		instance = "ssdp-discover on " + host
	}

	txt := []string{
		"path=" + eventsPath,
		"version=" + version.Version,
	}

	srv, err := zeroconf.Register(instance, FeedServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("Advertising discovery feed over mDNS",
		zap.String("instance", instance),
		zap.String("service", FeedServiceType),
		zap.Int("port", port),
	)
	return &Advertiser{server: srv}, nil
}

// Shutdown withdraws the mDNS registration
func (a *Advertiser) Shutdown() {
	if a != nil && a.server != nil {
		a.server.Shutdown()
	}
}

// Browser finds discovery feeds announced over mDNS
type Browser struct {
	// Timeout is the maximum time to wait for announcements
	Timeout time.Duration
}

// NewBrowser creates a browser with default settings
func NewBrowser() *Browser {
	return &Browser{
		Timeout: DefaultBrowseTimeout,
	}
}

// BrowseFeeds collects feed announcements until the timeout or ctx ends
func (b *Browser) BrowseFeeds(ctx context.Context) ([]*Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	collected := make(chan struct{})

	var mu sync.Mutex
	feeds := make([]*Feed, 0)
	seen := make(map[string]bool)

	go func() {
		defer close(collected)
		for entry := range entries {
			feed := parseServiceEntry(entry)
			if feed == nil {
				continue
			}
			mu.Lock()
			if !seen[feed.Instance] {
				seen[feed.Instance] = true
				feeds = append(feeds, feed)
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, FeedServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	// The resolver closes entries once it notices the cancellation
	select {
	case <-collected:
	case <-time.After(time.Second):
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]*Feed(nil), feeds...), nil
}

// parseServiceEntry converts a zeroconf service entry to a Feed.
// Returns nil if the entry has no usable address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Feed {
	if entry == nil || entry.HostName == "" {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultFeedPort
	}

	// TXT records are in "key=value" format
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	instance := entry.Instance
	if instance == "" {
		instance = entry.HostName
	}

	return &Feed{
		Instance:     instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

package server

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func newEntry(instance, host string, port int, v4, v6 []net.IP, txt ...string) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry(instance, FeedServiceType, ServiceDomain)
	entry.HostName = host
	entry.Port = port
	entry.AddrIPv4 = v4
	entry.AddrIPv6 = v6
	entry.Text = txt
	return entry
}

func TestParseServiceEntry(t *testing.T) {
	tests := []struct {
		name         string
		entry        *zeroconf.ServiceEntry
		wantNil      bool
		wantInstance string
		wantIP       string
		wantPort     int
	}{
		{
			name:         "feed with IPv4",
			entry:        newEntry("ssdp-discover on nas", "nas.local.", 8080, []net.IP{net.ParseIP("192.168.4.16")}, nil, "path=/api/events"),
			wantInstance: "ssdp-discover on nas",
			wantIP:       "192.168.4.16",
			wantPort:     8080,
		},
		{
			name: "prefers IPv4 over IPv6",
			entry: newEntry("both", "both.local.", 9000,
				[]net.IP{net.ParseIP("10.0.0.5")}, []net.IP{net.ParseIP("fe80::1")}),
			wantInstance: "both",
			wantIP:       "10.0.0.5",
			wantPort:     9000,
		},
		{
			name:         "IPv6 fallback",
			entry:        newEntry("v6", "v6.local.", 9000, nil, []net.IP{net.ParseIP("fe80::1")}),
			wantInstance: "v6",
			wantIP:       "fe80::1",
			wantPort:     9000,
		},
		{
			name:         "default port",
			entry:        newEntry("noport", "noport.local.", 0, []net.IP{net.ParseIP("10.0.0.6")}, nil),
			wantInstance: "noport",
			wantIP:       "10.0.0.6",
			wantPort:     DefaultFeedPort,
		},
		{
			name:         "instance falls back to hostname",
			entry:        newEntry("", "anon.local.", 8080, []net.IP{net.ParseIP("10.0.0.7")}, nil),
			wantInstance: "anon.local.",
			wantIP:       "10.0.0.7",
			wantPort:     8080,
		},
		{
			name:    "no hostname",
			entry:   newEntry("x", "", 8080, []net.IP{net.ParseIP("10.0.0.8")}, nil),
			wantNil: true,
		},
		{
			name:    "no addresses",
			entry:   newEntry("x", "x.local.", 8080, nil, nil),
			wantNil: true,
		},
		{
			name:    "nil entry",
			entry:   nil,
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := parseServiceEntry(tt.entry)

			if tt.wantNil {
				if feed != nil {
					t.Errorf("parseServiceEntry() = %v, want nil", feed)
				}
				return
			}
			if feed == nil {
				t.Fatal("parseServiceEntry() = nil, want feed")
			}
			if feed.Instance != tt.wantInstance {
				t.Errorf("Instance = %v, want %v", feed.Instance, tt.wantInstance)
			}
			if feed.IP != tt.wantIP {
				t.Errorf("IP = %v, want %v", feed.IP, tt.wantIP)
			}
			if feed.Port != tt.wantPort {
				t.Errorf("Port = %v, want %v", feed.Port, tt.wantPort)
			}
			if feed.DiscoveredAt.IsZero() {
				t.Error("DiscoveredAt should be set")
			}
		})
	}
}

func TestParseServiceEntryMetadata(t *testing.T) {
	entry := newEntry("feed", "feed.local.", 8080, []net.IP{net.ParseIP("10.0.0.5")}, nil,
		"path=/api/events", "version=v1.2.3", "flag")

	feed := parseServiceEntry(entry)
	if feed == nil {
		t.Fatal("parseServiceEntry() = nil")
	}

	tests := map[string]string{
		"path":    "/api/events",
		"version": "v1.2.3",
		"flag":    "",
		"missing": "",
	}
	for key, want := range tests {
		if got := feed.GetMetadata(key); got != want {
			t.Errorf("GetMetadata(%q) = %q, want %q", key, got, want)
		}
	}
	if _, ok := feed.Metadata["flag"]; !ok {
		t.Error("key without value should still be recorded")
	}
}

func TestFeedURLs(t *testing.T) {
	tests := []struct {
		name       string
		feed       *Feed
		wantBase   string
		wantEvents string
	}{
		{
			name:       "ipv4 default path",
			feed:       &Feed{IP: "192.168.1.2", Port: 8080},
			wantBase:   "http://192.168.1.2:8080",
			wantEvents: "ws://192.168.1.2:8080/api/events",
		},
		{
			name:       "ipv6 custom path",
			feed:       &Feed{IP: "fe80::1", Port: 9000, Metadata: map[string]string{"path": "/feed"}},
			wantBase:   "http://[fe80::1]:9000",
			wantEvents: "ws://[fe80::1]:9000/feed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.feed.BaseURL(); got != tt.wantBase {
				t.Errorf("BaseURL() = %v, want %v", got, tt.wantBase)
			}
			if got := tt.feed.EventsURL(); got != tt.wantEvents {
				t.Errorf("EventsURL() = %v, want %v", got, tt.wantEvents)
			}
		})
	}
}

func TestFeedString(t *testing.T) {
	feed := &Feed{Instance: "nas feed", Hostname: "nas.local.", IP: "10.0.0.5", Port: 8080}
	want := "nas feed (nas.local.) at 10.0.0.5:8080"
	if got := feed.String(); got != want {
		t.Errorf("String() = %v, want %v", got, want)
	}
}

func TestNewBrowser(t *testing.T) {
	if b := NewBrowser(); b.Timeout != DefaultBrowseTimeout {
		t.Errorf("NewBrowser().Timeout = %v, want %v", b.Timeout, DefaultBrowseTimeout)
	}
}

func TestAdvertiserShutdownNil(t *testing.T) {
	var a *Advertiser
	a.Shutdown()
}

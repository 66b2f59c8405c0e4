package config

import (
	"time"

	"github.com/muurk/discovery/internal/discovery"
	"github.com/muurk/discovery/internal/ssdp"
)

// CurrentVersion is the config file format version
const CurrentVersion = 1

// Registry represents the entire user configuration file.
// This stores application preferences and user-defined metadata for services.
type Registry struct {
	Version     int                 `yaml:"version"`
	Preferences *Preferences        `yaml:"preferences,omitempty"`
	Services    map[string]*Service `yaml:"services,omitempty"` // Keyed by USN
}

// Service represents user-defined metadata for a single discovered service.
// This is keyed by the service's USN in the Registry.
type Service struct {
	Nickname     string    `yaml:"nickname,omitempty"`      // User-friendly name
	LastLocation string    `yaml:"last_location,omitempty"` // Last advertised LOCATION
	LastServer   string    `yaml:"last_server,omitempty"`   // Last advertised SERVER
	LastSeen     time.Time `yaml:"last_seen,omitempty"`     // Last discovery time
}

// Preferences represents application-wide user preferences.
type Preferences struct {
	BufferSize          int    `yaml:"buffer_size"`          // Receive buffer size in bytes
	ReadUnicastReplies  bool   `yaml:"read_unicast_replies"` // Also read replies sent to the query socket
	RebroadcastInterval int    `yaml:"rebroadcast_interval"` // Seconds between automatic M-SEARCH (0 = off)
	ScanTimeout         int    `yaml:"scan_timeout"`         // How long scan collects replies, in seconds
	Listen              string `yaml:"listen"`               // Feed server listen address
	Advertise           bool   `yaml:"advertise"`            // Advertise the feed server over mDNS
}

// DefaultPreferences returns the preferences used when the file has none
func DefaultPreferences() *Preferences {
	return &Preferences{
		BufferSize:          ssdp.ReceiveBufferSize,
		ReadUnicastReplies:  true,
		RebroadcastInterval: 0,
		ScanTimeout:         5,
		Listen:              ":8080",
		Advertise:           false,
	}
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version:     CurrentVersion,
		Preferences: DefaultPreferences(),
		Services:    make(map[string]*Service),
	}
}

// GetService retrieves service metadata by USN.
// Returns nil if the service doesn't exist in the registry.
func (r *Registry) GetService(usn string) *Service {
	return r.Services[usn]
}

// EnsureService ensures a service entry exists in the registry.
// Returns the service entry (existing or newly created).
func (r *Registry) EnsureService(usn string) *Service {
	if r.Services == nil {
		r.Services = make(map[string]*Service)
	}

	if svc, exists := r.Services[usn]; exists {
		return svc
	}

	svc := &Service{}
	r.Services[usn] = svc
	return svc
}

// Remember records the last seen details of a discovered service.
func (r *Registry) Remember(rec ssdp.ServiceRecord) {
	svc := r.EnsureService(rec.USN)
	svc.LastLocation = rec.Location
	svc.LastServer = rec.Server
	svc.LastSeen = rec.ReceivedAt
	if svc.LastSeen.IsZero() {
		svc.LastSeen = time.Now()
	}
}

// SetNickname sets a user-friendly nickname for a service.
func (r *Registry) SetNickname(usn, nickname string) {
	r.EnsureService(usn).Nickname = nickname
}

// DisplayName returns the nickname for rec if one is set, else the record's
// own display name.
func (r *Registry) DisplayName(rec ssdp.ServiceRecord) string {
	if svc := r.GetService(rec.USN); svc != nil && svc.Nickname != "" {
		return svc.Nickname
	}
	return rec.DisplayName()
}

// DiscoveryConfig converts the preferences to engine settings.
func (r *Registry) DiscoveryConfig() discovery.Config {
	cfg := discovery.DefaultConfig()

	prefs := r.Preferences
	if prefs == nil {
		return cfg
	}
	if prefs.BufferSize > 0 {
		cfg.BufferSize = prefs.BufferSize
	}
	cfg.ReadUnicastReplies = prefs.ReadUnicastReplies
	return cfg
}

// ScanDuration returns the scan timeout as a duration
func (p *Preferences) ScanDuration() time.Duration {
	if p == nil || p.ScanTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(p.ScanTimeout) * time.Second
}

// RebroadcastDuration returns the rebroadcast interval, or 0 when disabled
func (p *Preferences) RebroadcastDuration() time.Duration {
	if p == nil || p.RebroadcastInterval <= 0 {
		return 0
	}
	return time.Duration(p.RebroadcastInterval) * time.Second
}

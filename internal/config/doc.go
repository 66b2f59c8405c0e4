// Package config provides user configuration management for ssdp-discover.
//
// This package manages a YAML-based configuration file that stores discovery
// preferences and user-defined metadata for services seen on the network,
// such as nicknames and the last advertised location. The configuration
// follows OS-specific conventions for storage location.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/ssdp-discover/config.yaml or $HOME/.config/ssdp-discover/config.yaml
//   - macOS: $HOME/.config/ssdp-discover/config.yaml
//   - Windows: %LOCALAPPDATA%\ssdp-discover\config.yaml
//
// SetConfigPath overrides the location (the --config flag).
//
// # Usage Example
//
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine, err := discovery.New(registry.DiscoveryConfig())
//	...
//	for _, rec := range engine.Snapshot() {
//	    registry.Remember(rec)
//	}
//	registry.SetNickname("uuid:2f402f80-da50-11e1-9b23-001788255acc::upnp:rootdevice", "Hallway bridge")
//
//	// Save changes atomically
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File writes are protected by a mutex and go through a temporary file.
// A Registry value itself is not safe for concurrent mutation.
package config

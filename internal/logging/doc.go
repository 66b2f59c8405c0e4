// Package logging provides structured logging for the discovery tools.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used by the engine, the feed server and the CLI.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Datagram dumps, rejected replies, websocket traffic
//   - Info: New services, feed clients, HTTP requests
//   - Warn: Non-fatal issues (failed broadcasts, dropped feed clients)
//   - Error: Receive loop failures, startup failures
//
// Logging is silent unless a level is passed to Initialize or set through
// the DISCOVERY_LOG_LEVEL environment variable.
//
// # Structured Logging
//
//	logging.Info("Service discovered",
//	    zap.String("usn", rec.USN),
//	    zap.String("location", rec.Location),
//	)
//
// # Specialized Logging
//
// Datagram Logging (debug only, hex and ascii dumps):
//
//	logging.LogDatagram(log, "received", from.String(), buf[:n])
//
// Service Events:
//
//	logging.LogServiceEvent(log, "discovered", rec.USN, rec.Location)
//
// Feed Server:
//
//	logging.LogConnection(remoteAddr, "websocket_upgraded")
//	logging.LogHTTPRequest(remoteAddr, r.Method, r.URL.Path, status)
//
// # Configuration
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Output Format
//
// Logs are written to stderr in console format:
//
//	2025-11-25T10:30:45.123-0800  INFO  Service discovered
//	  usn=uuid:2f402f80-da50-11e1-9b23-001788255acc::upnp:rootdevice
//	  location=http://192.168.1.20:49152/description.xml
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. Initialize and SetLogger
// are meant to be called once at startup.
package logging

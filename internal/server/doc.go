// Package server exposes a discovery engine over HTTP.
//
// The server publishes the services found by a discovery.Engine to other
// tools on the network: a JSON snapshot, control endpoints that trigger a
// broadcast or start a new session, a websocket event feed and Prometheus
// metrics. It can also announce itself over mDNS so clients find it without
// configuration.
//
// # Routes
//
//	GET  /api/services   JSON snapshot of the current session
//	POST /api/broadcast  send an M-SEARCH; 202 on success, 502 on send failure
//	POST /api/reset      clear the set and start a new session; 204
//	GET  /api/events     websocket event feed
//	GET  /api/version    build version
//	GET  /metrics        Prometheus metrics
//
// # Event Feed
//
// Every websocket connection first receives a "snapshot" message with the
// services of the current session, followed by one "service" message per
// newly discovered service and an "error" message if a receive loop fails:
//
//	{"type":"service","session":"6f1c...","service":{"usn":"uuid:...","location":"http://..."}}
//
// Messages carry the session id; a new id means the set was reset. The
// server pings idle clients and drops those that stop answering.
//
// # mDNS
//
// With Config.Advertise the server registers "_ssdp-feed._tcp" in the local.
// domain with a TXT record pointing at the event feed. Browser finds such
// servers:
//
//	feeds, err := server.NewBrowser().BrowseFeeds(ctx)
//	for _, f := range feeds {
//	    fmt.Println(f.Instance, f.EventsURL())
//	}
//
// # Usage Example
//
//	srv := server.New(engine, server.Config{
//	    Listen:    ":8080",
//	    Advertise: true,
//	})
//
//	// Run blocks until ctx is cancelled, then shuts down gracefully
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// On cancellation the server:
//  1. Withdraws the mDNS registration
//  2. Sends a close frame to every feed client and closes it
//  3. Stops the HTTP server
//  4. Waits for client handlers to finish, bounded by the shutdown timeout
//
// The engine itself is owned by the caller and is not shut down.
package server

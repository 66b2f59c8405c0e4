// Package discovery provides SSDP-based service discovery on the local network.
//
// An Engine owns two UDP sockets: a send socket for M-SEARCH queries and a
// listener joined to the SSDP multicast group. Replies are decoded into
// ssdp.ServiceRecord values, deduplicated by USN and published to subscribers.
//
// # Discovery Process
//
//  1. New opens the sockets (construction fails if either cannot be opened)
//  2. StartListening starts one receive loop per socket
//  3. Broadcast sends an M-SEARCH query for every service type
//  4. Each reply is decoded; invalid replies are logged and dropped
//  5. The first valid reply for a USN is added to the set and published
//  6. Shutdown closes the sockets, which ends the loops and the subscriptions
//
// M-SEARCH replies are unicast to the source port of the query, so by default
// the send socket is read as well (Config.ReadUnicastReplies).
//
// # Usage Example
//
//	engine, err := discovery.New(discovery.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Shutdown()
//
//	sub := engine.Subscribe()
//	if err := engine.StartListening(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := <-engine.Broadcast(); err != nil {
//	    log.Printf("broadcast failed: %v", err)
//	}
//
//	for ev := range sub.C() {
//	    if ev.Err != nil {
//	        log.Printf("receive failed: %v", ev.Err)
//	        continue
//	    }
//	    fmt.Printf("Found: %s at %s\n", ev.Record.DisplayName(), ev.Record.Location)
//	}
//
// # Sessions
//
// The set of services belongs to a session. Reset clears the set and starts
// a new session with a fresh identifier; services that answer the next
// broadcast are reported again. Every Event carries the session it belongs to.
//
// # Events
//
// Subscribers receive each new service exactly once, in the order the engine
// accepted them. A transport failure in a receive loop is published once as
// an Event with Err set and ends that loop. Closing a socket is cancellation
// and is never reported.
//
// # Metrics
//
// The engine updates Prometheus collectors registered with the default
// registry under the "ssdp_discovery" prefix.
//
// # Thread Safety
//
// Engine methods are safe for concurrent use. ServiceSet is not; the engine
// guards its own set.
package discovery

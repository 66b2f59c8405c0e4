// Package tui implements the full-screen "watch" view of ssdp-discover.
//
// The view lists services as the discovery engine finds them. It is built on
// Bubble Tea and follows the Elm architecture: every engine event becomes a
// message, and Update returns the next model.
//
// # Screens
//
//   - List: one row per service, titled with its nickname or device UUID,
//     described as "server • location" and marked expired once its
//     advertisement lapses; a status line shows the service
//     count, the session and the last M-SEARCH
//   - Detail: the fields and raw payload of the selected service in a
//     scrolling viewport
//
// Both screens are wrapped by RenderApplicationContainer.
//
// # Framework Components
//
//   - bubbles/list: service list with filtering
//   - bubbles/viewport: payload scrolling
//   - bubbles/spinner: search indicator
//   - bubbles/help: key hints
//   - lipgloss: styling and layout
//
// # Keys
//
//	enter  show payload       b  send M-SEARCH
//	esc    back to list       r  reset the set and search again
//	/      filter             q  quit
//
// # Usage Example
//
//	if err := tui.Run(engine, tui.Options{Names: registry}); err != nil {
//	    log.Fatal(err)
//	}
//
// Run subscribes to the engine, so the engine must outlive the program. If
// the engine stops, the list stays on screen marked as stopped.
package tui

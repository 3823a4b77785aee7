// Package ws streams launcher events to the UI shell over WebSocket.
//
// Message Types (Server → Shell):
//   - state: startup state snapshot (loading gate, route, ready)
//   - update_available: an update was downloaded; answer with update_response
//   - alert: blocking error alert; answer with alert_ack
//   - notification: a delivered push notification
//   - pong, error
//
// Message Types (Shell → Server):
//   - update_response: {"id": "...", "choice": "now" | "later"}
//   - alert_ack: {"id": "..."}
//   - ping
//
// The Hub is the launcher's Prompter and Alerter:
//
//	hub := ws.NewHub(ws.Options{Snapshot: func() any { return state.Snapshot() }})
//	router.GET("/stream", hub.HandleConnection)
package ws

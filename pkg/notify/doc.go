// Package notify fans appended alert events out to live subscribers:
// websocket clients of the HTTP server, a NATS subject and a Redis channel.
//
// Every publisher implements alerting.Notifier. Delivery is best-effort; the
// event log in storage stays the source of truth. External publishers also
// implement Checker so the health endpoint can report whether they are
// reachable.
package notify

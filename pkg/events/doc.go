/*
Package events provides the in-memory broker that fans operation status
updates out to WebSocket sessions.

The coordinator publishes one event per operation status or stage change;
every connected WebSocket session holds a subscription and filters by
endpoint id on its own side.

	┌──────────────────── EVENT BROKER ─────────────────────┐
	│                                                        │
	│  coordinator ──Publish──▶ event channel (buffer 100)  │
	│                               │                        │
	│                         broadcast loop                 │
	│                               │                        │
	│              ┌────────────────┼───────────────┐        │
	│              ▼                ▼               ▼        │
	│        subscriber       subscriber      subscriber     │
	│        (buffer 50)      (buffer 50)     (buffer 50)    │
	│              │                │               │        │
	│           WS session       WS session     metrics      │
	└────────────────────────────────────────────────────────┘

Delivery is best effort: publish never blocks, and a subscriber whose
buffer is full skips the event. Operation state lives in the database; the
broker only accelerates its visibility, so a dropped frame costs a client
one refresh, never correctness.
*/
package events

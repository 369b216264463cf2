// Package repl propagates host-originated session events to all peers.
// Delivery is ordered per peer and at-least-once; receivers dedupe by
// sequence number, so applying a duplicate is a no-op.
package repl

import "encoding/json"

// EventType enumerates the replication messages the host emits.
type EventType string

const (
	EventSessionIDAssigned EventType = "SESSION_ID_ASSIGNED"
	EventSaveCompleted     EventType = "SAVE_COMPLETED"
	EventStateLoaded       EventType = "STATE_LOADED"
)

// Event is the wire envelope. Seq is assigned by the channel in emission
// order and is monotonic for the life of the host process.
type Event struct {
	Seq       uint64          `json:"seq"`
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Snapshot  json.RawMessage `json:"snapshot,omitempty"`
}

// SessionIDAssigned announces a freshly generated session id.
func SessionIDAssigned(id string) Event {
	return Event{Type: EventSessionIDAssigned, SessionID: id}
}

// SaveCompleted announces that a save for the session reached the store.
func SaveCompleted(id string) Event {
	return Event{Type: EventSaveCompleted, SessionID: id}
}

// StateLoaded carries the full snapshot document for peers to apply.
func StateLoaded(id string, payload []byte) Event {
	return Event{Type: EventStateLoaded, SessionID: id, Snapshot: payload}
}

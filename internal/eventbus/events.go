package eventbus

import "github.com/isqad/livelook-collab/internal/core"

// Event is the closed set of names emitted by a collaboration client
type Event string

const (
	UserJoined            Event = "user-joined"
	UserLeft              Event = "user-left"
	StateChanged          Event = "state-changed"
	ColorChanged          Event = "color-changed"
	ThemeChanged          Event = "theme-changed"
	CursorMoved           Event = "cursor-moved"
	SelectionChanged      Event = "selection-changed"
	SyncRequest           Event = "sync-request"
	SyncComplete          Event = "sync-complete"
	ConflictDetected      Event = "conflict-detected"
	ConnectionEstablished Event = "connection-established"
	ConnectionLost        Event = "connection-lost"
)

var AllEvents = []Event{
	UserJoined, UserLeft, StateChanged, ColorChanged, ThemeChanged, CursorMoved,
	SelectionChanged, SyncRequest, SyncComplete, ConflictDetected,
	ConnectionEstablished, ConnectionLost,
}

// Payload shapes, one per event name:
//
//	user-joined, user-left            *core.User
//	state-changed                     StateChange
//	color-changed, theme-changed      StateChange
//	cursor-moved                      CursorMove
//	selection-changed                 SelectionChange
//	sync-request, sync-complete       SyncInfo
//	conflict-detected                 Conflict
//	connection-established, -lost     ConnectionInfo

type StateSource string

const (
	LocalSource    StateSource = "local"
	RemoteSource   StateSource = "remote"
	ResolvedSource StateSource = "resolved"
	UndoSource     StateSource = "undo"
)

type StateChange struct {
	Previous core.SharedState `json:"previous"`
	Current  core.SharedState `json:"current"`
	Source   StateSource      `json:"source"`
}

type Conflict struct {
	Local    core.SharedState `json:"local"`
	Remote   core.SharedState `json:"remote"`
	Resolved core.SharedState `json:"resolved"`
}

type CursorMove struct {
	UserID core.UserID `json:"userId"`
	Cursor core.Cursor `json:"cursor"`
}

type SelectionChange struct {
	UserID    core.UserID    `json:"userId"`
	Selection core.Selection `json:"selection"`
}

type SyncInfo struct {
	PeerID  core.UserID `json:"peerId,omitempty"`
	Version int64       `json:"version"`
}

type ConnectionInfo struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

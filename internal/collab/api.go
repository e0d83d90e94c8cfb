package collab

import (
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/eventbus"
)

// Stats is a point in time view of the client
type Stats struct {
	Version           int64  `json:"version"`
	HistorySize       int    `json:"historySize"`
	ConnectedPeers    int    `json:"connectedPeers"`
	QueuedMessages    int    `json:"queuedMessages"`
	OnlineUsers       int    `json:"onlineUsers"`
	Conflicts         uint64 `json:"conflicts"`
	MessagesSent      uint64 `json:"messagesSent"`
	MessagesReceived  uint64 `json:"messagesReceived"`
	ReconnectAttempts uint64 `json:"reconnectAttempts"`
	Connected         bool   `json:"connected"`
}

// UpdateState applies a local edit and broadcasts it
func (c *Client) UpdateState(patch core.StatePatch) error {
	_, err := c.sync.ApplyLocalEdit(patch)
	return err
}

// SetColor changes one palette entry keeping the others
func (c *Client) SetColor(name, value string) error {
	_, err := c.sync.ApplyLocalChange(func(current core.SharedState) core.StatePatch {
		colors := current.Colors
		colors[name] = value
		return core.StatePatch{Colors: colors}
	})
	return err
}

func (c *Client) UpdateCursor(x, y float64) {
	cursor := core.Cursor{X: x, Y: y}
	now := c.now()

	c.roster.UpdateCursor(c.userID, cursor, now)
	c.broadcast(core.CursorMessage, cursor)
}

func (c *Client) UpdateSelection(value string) {
	now := c.now()
	selection := core.Selection{Value: value, Timestamp: core.Millis(now)}

	c.roster.UpdateSelection(c.userID, selection, now)
	c.broadcast(core.SelectionMessage, selection)
}

// Undo restores the previous local state, it is a no-op on empty history
func (c *Client) Undo() bool {
	return c.sync.Undo()
}

func (c *Client) GetSession() *core.Session {
	return c.roster.Session()
}

func (c *Client) GetState() core.SharedState {
	state, _ := c.sync.State()
	return state
}

func (c *Client) GetOnlineUsers() []*core.User {
	return c.roster.Online()
}

func (c *Client) GetStats() Stats {
	state, _ := c.sync.State()
	channels := c.channels.Stats()

	c.lock.Lock()
	received := c.messagesReceived
	connected := c.connected
	c.lock.Unlock()

	return Stats{
		Version:           state.Version,
		HistorySize:       c.sync.HistoryLen(),
		ConnectedPeers:    channels.OpenChannels,
		QueuedMessages:    channels.QueuedMessages,
		OnlineUsers:       len(c.roster.Online()),
		Conflicts:         c.sync.Conflicts(),
		MessagesSent:      channels.Sent,
		MessagesReceived:  received,
		ReconnectAttempts: c.reconnect.Attempts(),
		Connected:         connected,
	}
}

func (c *Client) On(name eventbus.Event, listener eventbus.Listener) func() {
	return c.events.On(name, listener)
}

func (c *Client) OnAny(listener eventbus.Listener) func() {
	return c.events.OnAny(listener)
}

func (c *Client) UserID() core.UserID {
	return c.userID
}

func (c *Client) broadcast(t core.SyncMessageType, payload interface{}) {
	msg, err := core.NewSyncMessage(t, c.userID, core.Millis(c.now()), payload)
	if err != nil {
		log.Error().Err(err).Str("service", "collab").Str("type", string(t)).Msg("can't encode message")
		return
	}
	c.channels.Broadcast(msg, "")
}

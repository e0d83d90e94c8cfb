package collab

import (
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/channel"
	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/eventbus"
	"github.com/isqad/livelook-collab/internal/signal"
	"github.com/isqad/livelook-collab/internal/statesync"
)

func (c *Client) handleSessionInfo(s *signal.SessionInfo) {
	session := s.Session.Clone()
	if session.FindUser(c.userID) == nil {
		session.UpsertUser(c.localUser())
	}
	c.roster.Reset(session)
	c.sync.SetResolver(statesync.ResolverFor(session.Settings.ConflictPolicy))

	state := core.SharedState{Colors: map[string]string{}}
	if s.State != nil {
		state = s.State.Clone()
	}
	c.sync.Initialize(state)

	c.lock.Lock()
	c.syncedVersion = state.Version
	p := c.pending
	c.pending = nil
	c.lock.Unlock()

	log.Debug().Str("service", "collab").Str("sessionID", session.ID).Int("users", len(session.Users)).Msg("session info")

	if p != nil {
		close(p.ready)
	}
}

func (c *Client) handleUserJoined(s *signal.UserJoined) {
	if s.User.ID == c.userID {
		return
	}

	user := c.roster.Join(s.User, c.now())
	if user != nil {
		c.events.Emit(eventbus.UserJoined, user)
	}

	// the existing members initiate towards the joiner
	if err := c.peers.HandleUserJoined(s.User.ID); err != nil {
		log.Error().Err(err).Str("service", "collab").Str("peerID", string(s.User.ID)).Msg("can't link peer")
	}
}

func (c *Client) handleUserLeft(s *signal.UserLeft) {
	c.peers.HandleUserLeft(s.UserID)
	c.channels.RemoveChannel(s.UserID)

	if user := c.roster.Leave(s.UserID); user != nil {
		c.events.Emit(eventbus.UserLeft, user)
	}
}

func (c *Client) handleOffer(s *signal.SDP) {
	if err := c.peers.HandleOffer(s); err != nil {
		log.Error().Err(err).Str("service", "collab").Str("peerID", string(s.UserID)).Msg("can't answer offer")
	}
}

func (c *Client) handleAnswer(s *signal.SDP) {
	if err := c.peers.HandleAnswer(s); err != nil {
		log.Error().Err(err).Str("service", "collab").Str("peerID", string(s.UserID)).Msg("can't apply answer")
	}
}

func (c *Client) handleICECandidate(s *signal.ICECandidate) {
	if err := c.peers.HandleICECandidate(s); err != nil {
		log.Warn().Err(err).Str("service", "collab").Str("peerID", string(s.UserID)).Msg("drop ICE candidate")
	}
}

// handleStateSync feeds states relayed by the server into the synchronizer
func (c *Client) handleStateSync(s *signal.StateSync) {
	outcome := c.sync.HandleRemoteState(s.State.Clone())

	if outcome == statesync.Accepted || outcome == statesync.Duplicate {
		c.lock.Lock()
		c.syncedVersion = s.State.Version
		c.lock.Unlock()
	}
}

// meshHandler receives the peer mesh callbacks
type meshHandler Client

func (h *meshHandler) ChannelOpened(peerID core.UserID, ch channel.Channel) {
	c := (*Client)(h)

	c.channels.AddChannel(peerID, ch)

	state, _ := c.sync.State()
	c.events.Emit(eventbus.SyncRequest, eventbus.SyncInfo{PeerID: peerID, Version: state.Version})

	if err := c.sync.SendFullSync(peerID); err != nil {
		log.Warn().Err(err).Str("service", "collab").Str("peerID", string(peerID)).Msg("full sync skipped")
		return
	}
	c.events.Emit(eventbus.SyncComplete, eventbus.SyncInfo{PeerID: peerID, Version: state.Version})
}

func (h *meshHandler) LinkClosed(peerID core.UserID) {
	(*Client)(h).channels.RemoveChannel(peerID)
}

func (h *meshHandler) MessageReceived(peerID core.UserID, data []byte) {
	c := (*Client)(h)

	msg, err := core.ParseSyncMessage(data)
	if err != nil {
		log.Warn().Err(err).Str("service", "collab").Str("peerID", string(peerID)).Msg("drop peer message")
		return
	}
	if msg.SenderID != peerID {
		log.Warn().Str("service", "collab").Str("peerID", string(peerID)).Str("senderID", string(msg.SenderID)).Msg("sender mismatch")
		return
	}

	c.lock.Lock()
	c.messagesReceived++
	c.lock.Unlock()

	if err := c.dispatch(msg); err != nil {
		log.Warn().Err(err).Str("service", "collab").Str("peerID", string(peerID)).Str("type", string(msg.Type)).Msg("bad payload")
	}
}

func (c *Client) dispatch(msg *core.SyncMessage) error {
	switch msg.Type {
	case core.StateMessage:
		var state core.SharedState
		if err := msg.DecodePayload(&state); err != nil {
			return err
		}
		c.sync.HandleRemoteState(state)
	case core.DeltaMessage:
		var delta core.DeltaPayload
		if err := msg.DecodePayload(&delta); err != nil {
			return err
		}
		c.sync.HandleRemoteDelta(msg.SenderID, msg.Timestamp, delta)
	case core.CursorMessage:
		var cursor core.Cursor
		if err := msg.DecodePayload(&cursor); err != nil {
			return err
		}
		c.roster.UpdateCursor(msg.SenderID, cursor, c.now())
		c.events.Emit(eventbus.CursorMoved, eventbus.CursorMove{UserID: msg.SenderID, Cursor: cursor})
	case core.SelectionMessage:
		var selection core.Selection
		if err := msg.DecodePayload(&selection); err != nil {
			return err
		}
		c.roster.UpdateSelection(msg.SenderID, selection, c.now())
		c.events.Emit(eventbus.SelectionChanged, eventbus.SelectionChange{UserID: msg.SenderID, Selection: selection})
	case core.PresenceMessage:
		return c.monitor.HandlePresence(msg)
	}

	return nil
}

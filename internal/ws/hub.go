package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/relay"
	"github.com/isqad/livelook-collab/internal/repository"
	"github.com/isqad/livelook-collab/internal/signal"
	"github.com/isqad/livelook-collab/internal/telemetry"
)

var (
	ErrSessionFull   = errors.New("session is full")
	ErrAlreadyJoined = errors.New("socket already joined a session")
	ErrNotJoined     = errors.New("socket hasn't joined a session")
	ErrWrongSender   = errors.New("signal sender doesn't match the member")
)

// Writer is the server side of one member's socket
type Writer interface {
	Write(msg []byte) error
}

// room is this node's view of a session: every member across nodes plus the
// sockets served locally
type room struct {
	id  string
	sub relay.Subscription

	lock    sync.Mutex
	session *core.Session
	state   core.SharedState
	local   map[core.UserID]Writer
}

// Hub keeps rooms of the node and fans signals out through the relay
type Hub struct {
	relay    relay.Relay
	sessions repository.SessionsRepository
	clock    func() time.Time

	lock  sync.Mutex
	rooms map[string]*room
}

func NewHub(r relay.Relay, sessions repository.SessionsRepository) *Hub {
	return &Hub{
		relay:    r,
		sessions: sessions,
		clock:    time.Now,
		rooms:    make(map[string]*room),
	}
}

// Join registers the member, replies with session-info and announces the
// member to the others
func (h *Hub) Join(ctx context.Context, w Writer, j *signal.Join) error {
	user := j.User.Clone()
	user.Touch(h.clock())

	// the room lookup and the registration share the hub lock so that a
	// concurrent last leave can't release the room in between
	h.lock.Lock()
	rm, err := h.openRoomLocked(ctx, j.SessionID, user.ID)
	if err != nil {
		h.lock.Unlock()
		return err
	}

	rm.lock.Lock()
	if rm.session.FindUser(user.ID) == nil && rm.session.Settings.Full(len(rm.session.Users)) {
		rm.lock.Unlock()
		h.lock.Unlock()
		h.releaseIfEmpty(rm)
		return ErrSessionFull
	}
	rm.session.UpsertUser(user)
	rm.local[user.ID] = w
	announced := user.Clone()
	state := rm.state.Clone()
	info, err := signal.NewSessionInfo(rm.session.Clone(), &state).ToJSON()
	rm.lock.Unlock()
	h.lock.Unlock()
	if err != nil {
		return err
	}

	if err := w.Write(info); err != nil {
		rm.lock.Lock()
		if rm.local[announced.ID] == w {
			delete(rm.local, announced.ID)
			rm.session.RemoveUser(announced.ID)
		}
		rm.lock.Unlock()
		h.releaseIfEmpty(rm)
		return err
	}

	log.Info().Str("service", "ws").Str("sessionID", rm.id).Str("userID", string(announced.ID)).Msg("member joined")

	return h.publish(ctx, rm.id, signal.NewUserJoined(announced), "", announced.ID)
}

// Leave forgets the local member and announces it to the others. A socket
// replaced by a newer one of the same user leaves silently.
func (h *Hub) Leave(ctx context.Context, sessionID string, userID core.UserID, w Writer) error {
	rm := h.room(sessionID)
	if rm == nil {
		return ErrNotJoined
	}

	rm.lock.Lock()
	if current, ok := rm.local[userID]; !ok || current != w {
		rm.lock.Unlock()
		return nil
	}
	delete(rm.local, userID)
	rm.session.RemoveUser(userID)
	rm.lock.Unlock()

	log.Info().Str("service", "ws").Str("sessionID", sessionID).Str("userID", string(userID)).Msg("member left")

	err := h.publish(ctx, sessionID, signal.NewUserLeft(userID), "", userID)
	h.releaseIfEmpty(rm)

	return err
}

// Route relays an offer, answer or candidate to its target only
func (h *Hub) Route(ctx context.Context, sessionID string, from core.UserID, s signal.Routed) error {
	if s.From() != from {
		return ErrWrongSender
	}
	return h.publish(ctx, sessionID, s, s.To(), "")
}

// Heartbeat refreshes the member's lastSeen
func (h *Hub) Heartbeat(sessionID string, userID core.UserID) error {
	rm := h.room(sessionID)
	if rm == nil {
		return ErrNotJoined
	}

	rm.lock.Lock()
	defer rm.lock.Unlock()

	if u := rm.session.FindUser(userID); u != nil {
		u.Touch(h.clock())
	}
	return nil
}

// SyncState stores the state when it is newer than the known one and relays
// it to the other members
func (h *Hub) SyncState(ctx context.Context, sessionID string, from core.UserID, s *signal.StateSync) error {
	rm := h.room(sessionID)
	if rm == nil {
		return ErrNotJoined
	}

	rm.lock.Lock()
	newer := s.State.Version > rm.state.Version
	if newer {
		rm.state = s.State.Clone()
	}
	rm.lock.Unlock()

	if newer {
		if err := h.sessions.SaveState(ctx, sessionID, *s.State); err != nil {
			telemetry.ServiceOperationCounter.WithLabelValues("save_state", "error", "repository").Inc()
			log.Error().Err(err).Str("service", "ws").Str("sessionID", sessionID).Msg("can't persist state")
		}
	}

	return h.publish(ctx, sessionID, s, "", from)
}

// Members returns a copy of the node's view of the session
func (h *Hub) Members(sessionID string) []*core.User {
	rm := h.room(sessionID)
	if rm == nil {
		return nil
	}

	rm.lock.Lock()
	defer rm.lock.Unlock()

	return rm.session.Clone().Users
}

// Info returns the session-info a joiner would get
func (h *Hub) Info(ctx context.Context, sessionID string) (*signal.SessionInfo, error) {
	if rm := h.room(sessionID); rm != nil {
		rm.lock.Lock()
		defer rm.lock.Unlock()

		state := rm.state.Clone()
		return signal.NewSessionInfo(rm.session.Clone(), &state), nil
	}

	rec, err := h.sessions.Find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return signal.NewSessionInfo(rec.Session, &rec.State), nil
}

// Close drops every room subscription
func (h *Hub) Close() {
	h.lock.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*room)
	h.lock.Unlock()

	for _, rm := range rooms {
		if err := rm.sub.Close(); err != nil {
			log.Error().Err(err).Str("service", "ws").Str("sessionID", rm.id).Msg("can't close relay subscription")
		}
	}
}

func (h *Hub) room(sessionID string) *room {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.rooms[sessionID]
}

// openRoomLocked loads the session or creates it owned by the joiner, and
// subscribes the node to its signals. h.lock must be held.
func (h *Hub) openRoomLocked(ctx context.Context, sessionID string, joiner core.UserID) (*room, error) {
	if rm, ok := h.rooms[sessionID]; ok {
		return rm, nil
	}

	rec, err := h.sessions.Find(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		session := core.NewSession(sessionID, "session-"+uuid.NewString()[:8], joiner, h.clock())
		rec = &repository.Record{Session: session, State: core.SharedState{Colors: map[string]string{}}}
		err = h.sessions.Create(ctx, rec)
	}
	if err != nil {
		telemetry.ServiceOperationCounter.WithLabelValues("open_room", "error", "repository").Inc()
		return nil, err
	}

	rm := &room{
		id:      sessionID,
		session: rec.Session,
		state:   rec.State,
		local:   make(map[core.UserID]Writer),
	}
	rm.session.Users = []*core.User{}

	sub, err := h.relay.Subscribe(ctx, sessionID, func(env *relay.Envelope) {
		h.deliver(rm, env)
	})
	if err != nil {
		telemetry.ServiceOperationCounter.WithLabelValues("open_room", "error", "relay").Inc()
		return nil, err
	}
	rm.sub = sub

	h.rooms[sessionID] = rm
	telemetry.SessionStarted()

	return rm, nil
}

func (h *Hub) releaseIfEmpty(rm *room) {
	h.lock.Lock()
	rm.lock.Lock()
	release := len(rm.local) == 0 && h.rooms[rm.id] == rm
	rm.lock.Unlock()
	if release {
		delete(h.rooms, rm.id)
	}
	h.lock.Unlock()

	if !release {
		return
	}

	telemetry.SessionStopped()
	if err := rm.sub.Close(); err != nil {
		log.Error().Err(err).Str("service", "ws").Str("sessionID", rm.id).Msg("can't close relay subscription")
	}
}

func (h *Hub) publish(ctx context.Context, sessionID string, s signal.Signal, target, exclude core.UserID) error {
	env, err := relay.NewEnvelope(sessionID, s)
	if err != nil {
		return err
	}
	env.Target = target
	env.Exclude = exclude

	telemetry.SignalCounter.WithLabelValues("relayed", string(s.GetType())).Inc()

	return h.relay.Publish(ctx, env)
}

// deliver updates the room view from membership and state signals, then
// writes the envelope to the local sockets it is addressed to
func (h *Hub) deliver(rm *room, env *relay.Envelope) {
	s, err := env.Decode()
	if err != nil {
		log.Error().Err(err).Str("service", "ws").Str("sessionID", rm.id).Msg("drop relayed signal")
		return
	}

	rm.lock.Lock()
	switch sig := s.(type) {
	case *signal.UserJoined:
		rm.session.UpsertUser(sig.User)
	case *signal.UserLeft:
		rm.session.RemoveUser(sig.UserID)
	case *signal.StateSync:
		if sig.State.Version > rm.state.Version {
			rm.state = sig.State.Clone()
		}
	}

	writers := make(map[core.UserID]Writer, len(rm.local))
	for id, w := range rm.local {
		if env.Accepts(id) {
			writers[id] = w
		}
	}
	rm.lock.Unlock()

	for id, w := range writers {
		if err := w.Write(env.Signal); err != nil {
			log.Error().Err(err).Str("service", "ws").Str("sessionID", rm.id).Str("userID", string(id)).Msg("can't write signal")
			continue
		}
		telemetry.SignalCounter.WithLabelValues("out", string(s.GetType())).Inc()
	}
}

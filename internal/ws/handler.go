package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/melody"

	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/signal"
	"github.com/isqad/livelook-collab/internal/telemetry"
)

const (
	wsMemberSessionKey = "member"

	signalTimeout = 5 * time.Second
)

// member is the identity bound to a socket after its join
type member struct {
	lock      sync.Mutex
	sessionID string
	userID    core.UserID
}

func (m *member) bind(sessionID string, userID core.UserID) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.sessionID != "" {
		return false
	}
	m.sessionID = sessionID
	m.userID = userID
	return true
}

func (m *member) unbind() (string, core.UserID) {
	m.lock.Lock()
	defer m.lock.Unlock()

	sessionID, userID := m.sessionID, m.userID
	m.sessionID, m.userID = "", ""
	return sessionID, userID
}

func (m *member) identity() (string, core.UserID) {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.sessionID, m.userID
}

func WsHandler(websocket *melody.Melody) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessKeys := make(map[string]interface{})
		sessKeys[wsMemberSessionKey] = &member{}

		if err := websocket.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("can't handle request")
		}
	}
}

func DisconnectHandler(hub *Hub) func(session *melody.Session) {
	return func(session *melody.Session) {
		m, err := getMember(session)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("extract member from session")
			return
		}

		sessionID, userID := m.unbind()
		if sessionID == "" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		defer cancel()

		if err := hub.Leave(ctx, sessionID, userID, session); err != nil {
			log.Error().Err(err).Str("service", "ws").Str("sessionID", sessionID).Str("userID", string(userID)).Msg("leave on disconnect")
		}
	}
}

func HandleMessage(hub *Hub) func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		m, err := getMember(s)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("extract member from session")
			closeWsSession(s)
			return
		}

		sig, err := signal.FromBytes(msg)
		if err != nil {
			log.Error().Err(err).Str("service", "ws").Msg("drop signal")
			return
		}
		telemetry.SignalCounter.WithLabelValues("in", string(sig.GetType())).Inc()

		ctx, cancel := context.WithTimeout(context.Background(), signalTimeout)
		defer cancel()

		if err := dispatch(ctx, hub, s, m, sig); err != nil {
			sessionID, userID := m.identity()
			log.Error().Err(err).Str("service", "ws").Str("sessionID", sessionID).Str("userID", string(userID)).Str("type", string(sig.GetType())).Msg("can't handle signal")
		}
	}
}

func dispatch(ctx context.Context, hub *Hub, s *melody.Session, m *member, sig signal.Signal) error {
	if j, ok := sig.(*signal.Join); ok {
		if !m.bind(j.SessionID, j.User.ID) {
			return ErrAlreadyJoined
		}
		err := hub.Join(ctx, s, j)
		if err != nil {
			m.unbind()
		}
		if err == ErrSessionFull {
			closeWsSession(s)
		}
		return err
	}

	sessionID, userID := m.identity()
	if sessionID == "" {
		return ErrNotJoined
	}

	switch sig := sig.(type) {
	case *signal.Leave:
		m.unbind()
		return hub.Leave(ctx, sessionID, userID, s)
	case signal.Routed:
		return hub.Route(ctx, sessionID, userID, sig)
	case *signal.Heartbeat:
		return hub.Heartbeat(sessionID, userID)
	case *signal.StateSync:
		return hub.SyncState(ctx, sessionID, userID, sig)
	default:
		return fmt.Errorf("%w: %s isn't accepted from clients", signal.ErrUnknownSignalType, sig.GetType())
	}
}

func getMember(s *melody.Session) (*member, error) {
	raw, ok := s.Keys[wsMemberSessionKey]
	if !ok {
		return nil, fmt.Errorf("no member for given session: %+v", s)
	}
	m, ok := raw.(*member)
	if !ok {
		return nil, fmt.Errorf("can't convert member: %+v", raw)
	}
	return m, nil
}

func closeWsSession(s *melody.Session) {
	if err := s.Close(); err != nil {
		log.Debug().Err(err).Str("service", "ws").Msg("close websocket session")
	}
}

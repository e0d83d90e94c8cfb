package relay

import (
	"context"
	"sync"
)

// Local delivers envelopes in process, synchronously
type Local struct {
	lock   sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

func NewLocal() *Local {
	return &Local{subs: make(map[string]map[int]Handler)}
}

func (l *Local) Publish(_ context.Context, env *Envelope) error {
	l.lock.RLock()
	handlers := make([]Handler, 0, len(l.subs[env.SessionID]))
	for _, h := range l.subs[env.SessionID] {
		handlers = append(handlers, h)
	}
	l.lock.RUnlock()

	for _, h := range handlers {
		h(env)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, sessionID string, h Handler) (Subscription, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.nextID++
	id := l.nextID
	if l.subs[sessionID] == nil {
		l.subs[sessionID] = make(map[int]Handler)
	}
	l.subs[sessionID][id] = h

	return &localSubscription{relay: l, sessionID: sessionID, id: id}, nil
}

func (l *Local) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	l.subs = make(map[string]map[int]Handler)
	return nil
}

type localSubscription struct {
	relay     *Local
	sessionID string
	id        int
}

func (s *localSubscription) Close() error {
	s.relay.lock.Lock()
	defer s.relay.lock.Unlock()

	delete(s.relay.subs[s.sessionID], s.id)
	if len(s.relay.subs[s.sessionID]) == 0 {
		delete(s.relay.subs, s.sessionID)
	}
	return nil
}

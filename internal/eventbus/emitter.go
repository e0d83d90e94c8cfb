package eventbus

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/core"
)

type Message struct {
	Name      Event       `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

type Listener func(Message)

// Publisher is what the components emitting events depend on
type Publisher interface {
	Emit(name Event, payload interface{})
}

// Emitter is a typed publish/subscribe hub. Listeners are called
// synchronously in subscription order; a panicking listener is logged and
// skipped so delivery to the others goes on.
type Emitter struct {
	lock      sync.RWMutex
	nextID    int
	listeners map[Event][]subscription
	wildcard  []subscription
}

type subscription struct {
	id       int
	listener Listener
}

func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[Event][]subscription),
	}
}

// On subscribes listener to the event and returns the unsubscribe function
func (e *Emitter) On(name Event, listener Listener) func() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[name] = append(e.listeners[name], subscription{id: id, listener: listener})

	return func() {
		e.lock.Lock()
		e.listeners[name] = without(e.listeners[name], id)
		e.lock.Unlock()
	}
}

// OnAny subscribes listener to every event
func (e *Emitter) OnAny(listener Listener) func() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.nextID++
	id := e.nextID
	e.wildcard = append(e.wildcard, subscription{id: id, listener: listener})

	return func() {
		e.lock.Lock()
		e.wildcard = without(e.wildcard, id)
		e.lock.Unlock()
	}
}

func (e *Emitter) Emit(name Event, payload interface{}) {
	msg := Message{
		Name:      name,
		Payload:   payload,
		Timestamp: core.Millis(time.Now()),
	}

	e.lock.RLock()
	subs := make([]subscription, 0, len(e.listeners[name])+len(e.wildcard))
	subs = append(subs, e.listeners[name]...)
	subs = append(subs, e.wildcard...)
	e.lock.RUnlock()

	for _, s := range subs {
		deliver(s.listener, msg)
	}
}

func deliver(listener Listener, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("service", "eventbus").Str("event", string(msg.Name)).Interface("panic", r).Msg("listener failed")
		}
	}()

	listener(msg)
}

func without(subs []subscription, id int) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

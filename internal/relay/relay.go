package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/signal"
)

const (
	LocalMode = "local"
	RedisMode = "redis"
	NatsMode  = "nats"
)

var ErrUnknownMode = errors.New("unknown relay mode")

// Envelope is a signal addressed to members of a session, possibly on
// another node
type Envelope struct {
	SessionID string `json:"sessionId"`
	// Target limits delivery to one member, empty means every member
	Target  core.UserID     `json:"target,omitempty"`
	Exclude core.UserID     `json:"exclude,omitempty"`
	Signal  json.RawMessage `json:"signal"`
}

func NewEnvelope(sessionID string, s signal.Signal) (*Envelope, error) {
	data, err := s.ToJSON()
	if err != nil {
		return nil, err
	}
	return &Envelope{SessionID: sessionID, Signal: data}, nil
}

// Accepts reports whether the member should receive the envelope
func (e *Envelope) Accepts(userID core.UserID) bool {
	if e.Exclude != "" && e.Exclude == userID {
		return false
	}
	return e.Target == "" || e.Target == userID
}

func (e *Envelope) Decode() (signal.Signal, error) {
	return signal.FromBytes(e.Signal)
}

type Handler func(env *Envelope)

type Subscription interface {
	Close() error
}

// Relay fans signals out to every node serving a session. Publishers
// receive their own envelopes too.
type Relay interface {
	Publish(ctx context.Context, env *Envelope) error
	Subscribe(ctx context.Context, sessionID string, h Handler) (Subscription, error)
	Close() error
}

func encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func decode(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

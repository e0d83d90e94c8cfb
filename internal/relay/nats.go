package relay

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const natsSubjectPrefix = "signals."

// Nats relays envelopes over core NATS subjects, one per session. Echo
// stays enabled so the publishing node gets its own envelopes.
type Nats struct {
	nc *nats.Conn
}

func NewNats(url string) (*Nats, error) {
	nc, err := nats.Connect(url, nats.Name("livelook-signal"))
	if err != nil {
		return nil, err
	}
	return &Nats{nc: nc}, nil
}

func natsSubject(sessionID string) string {
	return natsSubjectPrefix + sessionID
}

func (n *Nats) Publish(_ context.Context, env *Envelope) error {
	data, err := encode(env)
	if err != nil {
		return err
	}
	return n.nc.Publish(natsSubject(env.SessionID), data)
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Close() error {
	return s.sub.Unsubscribe()
}

func (n *Nats) Subscribe(_ context.Context, sessionID string, h Handler) (Subscription, error) {
	sub, err := n.nc.Subscribe(natsSubject(sessionID), natsHandler(h))
	if err != nil {
		return nil, err
	}
	return &natsSubscription{sub: sub}, nil
}

func natsHandler(h Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		env, err := decode(msg.Data)
		if err != nil {
			log.Error().Err(err).Str("service", "relay").Str("subject", msg.Subject).Msg("")
			return
		}
		h(env)
	}
}

func (n *Nats) Close() error {
	return n.nc.Drain()
}

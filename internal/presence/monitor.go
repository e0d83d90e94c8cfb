package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/signal"
)

const DefaultHeartbeatInterval = 30 * time.Second

type SignalSender interface {
	Send(s signal.Signal) error
}

type Broadcaster interface {
	Broadcast(msg *core.SyncMessage, exclude core.UserID) int
}

// Monitor sends the periodic heartbeat to the server and announces presence
// to peers. Presence is advisory: peers are only dropped on user-left.
type Monitor struct {
	userID      core.UserID
	interval    time.Duration
	sender      SignalSender
	broadcaster Broadcaster
	roster      *Roster
	now         func() time.Time

	lock sync.Mutex
	stop chan struct{}
}

func NewMonitor(
	userID core.UserID,
	interval time.Duration,
	sender SignalSender,
	broadcaster Broadcaster,
	roster *Roster,
	clock func() time.Time,
) *Monitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if clock == nil {
		clock = time.Now
	}

	return &Monitor{
		userID:      userID,
		interval:    interval,
		sender:      sender,
		broadcaster: broadcaster,
		roster:      roster,
		now:         clock,
	}
}

func (m *Monitor) Start() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.stop != nil {
		return
	}
	stop := make(chan struct{})
	m.stop = stop

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.Beat()
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.stop == nil {
		return
	}
	close(m.stop)
	m.stop = nil
}

// Beat runs one heartbeat tick
func (m *Monitor) Beat() {
	now := m.now()
	ts := core.Millis(now)

	if err := m.sender.Send(signal.NewHeartbeat(m.userID, ts)); err != nil {
		log.Warn().Err(err).Str("service", "presence").Msg("heartbeat not sent")
	}

	msg, err := core.NewSyncMessage(core.PresenceMessage, m.userID, ts, core.PresencePayload{IsOnline: true, LastSeen: ts})
	if err != nil {
		log.Error().Err(err).Str("service", "presence").Msg("can't encode presence")
		return
	}
	m.broadcaster.Broadcast(msg, "")

	m.roster.UpdatePresence(m.userID, core.PresencePayload{IsOnline: true, LastSeen: ts})
}

// HandlePresence applies a presence message from a peer
func (m *Monitor) HandlePresence(msg *core.SyncMessage) error {
	var p core.PresencePayload
	if err := msg.DecodePayload(&p); err != nil {
		return err
	}

	if !m.roster.UpdatePresence(msg.SenderID, p) {
		log.Debug().Str("service", "presence").Str("userID", string(msg.SenderID)).Msg("presence for unknown user")
	}
	return nil
}

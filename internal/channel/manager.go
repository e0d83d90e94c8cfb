package channel

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/core"
)

var ErrChannelClosed = errors.New("channel is not open")

// Channel is a reliable ordered transport to one peer
type Channel interface {
	IsOpen() bool
	Send(data []byte) error
	Close() error
}

type Stats struct {
	OpenChannels   int
	QueuedMessages int
	Sent           uint64
	Failed         uint64
}

// Manager owns one channel per peer and queues outbound messages for peers
// whose channel isn't open yet
type Manager struct {
	lock     sync.Mutex
	channels map[core.UserID]Channel
	queues   map[core.UserID][]*core.SyncMessage

	sent   uint64
	failed uint64
}

func NewManager() *Manager {
	return &Manager{
		channels: make(map[core.UserID]Channel),
		queues:   make(map[core.UserID][]*core.SyncMessage),
	}
}

// AddChannel binds the channel and flushes the peer's queue in FIFO order
func (m *Manager) AddChannel(peerID core.UserID, ch Channel) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if prev, ok := m.channels[peerID]; ok && prev != ch {
		if err := prev.Close(); err != nil {
			log.Debug().Err(err).Str("service", "channel").Str("peerID", string(peerID)).Msg("close replaced channel")
		}
	}
	m.channels[peerID] = ch

	// queue is kept until the channel reports open
	if !ch.IsOpen() {
		return
	}

	queue := m.queues[peerID]
	delete(m.queues, peerID)

	log.Debug().Str("service", "channel").Str("peerID", string(peerID)).Int("queued", len(queue)).Msg("channel added")

	for _, msg := range queue {
		m.write(peerID, ch, msg)
	}
}

// RemoveChannel closes and forgets the channel, pending messages are dropped
func (m *Manager) RemoveChannel(peerID core.UserID) {
	m.lock.Lock()
	ch, ok := m.channels[peerID]
	delete(m.channels, peerID)
	delete(m.queues, peerID)
	m.lock.Unlock()

	if !ok {
		return
	}

	if err := ch.Close(); err != nil {
		log.Debug().Err(err).Str("service", "channel").Str("peerID", string(peerID)).Msg("close channel")
	}
}

// Send writes immediately when the peer's channel is open, queues otherwise
func (m *Manager) Send(peerID core.UserID, msg *core.SyncMessage) {
	m.lock.Lock()
	defer m.lock.Unlock()

	ch, ok := m.channels[peerID]
	if ok && ch.IsOpen() {
		m.write(peerID, ch, msg)
		return
	}

	m.queues[peerID] = append(m.queues[peerID], msg)
}

// Broadcast sends to every peer whose channel is currently open. Peers with
// queued-only state don't receive broadcasts.
func (m *Manager) Broadcast(msg *core.SyncMessage, exclude core.UserID) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	delivered := 0
	for peerID, ch := range m.channels {
		if peerID == exclude || !ch.IsOpen() {
			continue
		}
		if m.write(peerID, ch, msg) {
			delivered++
		}
	}

	return delivered
}

// CloseAll tears down every channel and queue
func (m *Manager) CloseAll() {
	m.lock.Lock()
	channels := m.channels
	m.channels = make(map[core.UserID]Channel)
	m.queues = make(map[core.UserID][]*core.SyncMessage)
	m.lock.Unlock()

	for peerID, ch := range channels {
		if err := ch.Close(); err != nil {
			log.Debug().Err(err).Str("service", "channel").Str("peerID", string(peerID)).Msg("close channel")
		}
	}
}

// Connected returns ids of peers with an open channel
func (m *Manager) Connected() []core.UserID {
	m.lock.Lock()
	defer m.lock.Unlock()

	ids := make([]core.UserID, 0, len(m.channels))
	for peerID, ch := range m.channels {
		if ch.IsOpen() {
			ids = append(ids, peerID)
		}
	}
	return ids
}

// Queued returns the number of pending messages for the peer
func (m *Manager) Queued(peerID core.UserID) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.queues[peerID])
}

func (m *Manager) Stats() Stats {
	m.lock.Lock()
	defer m.lock.Unlock()

	s := Stats{Sent: m.sent, Failed: m.failed}
	for _, ch := range m.channels {
		if ch.IsOpen() {
			s.OpenChannels++
		}
	}
	for _, q := range m.queues {
		s.QueuedMessages += len(q)
	}
	return s
}

// write must be called with the lock held
func (m *Manager) write(peerID core.UserID, ch Channel, msg *core.SyncMessage) bool {
	data, err := msg.ToJSON()
	if err != nil {
		m.failed++
		log.Error().Err(err).Str("service", "channel").Str("peerID", string(peerID)).Msg("can't encode message")
		return false
	}

	if err := ch.Send(data); err != nil {
		m.failed++
		log.Error().Err(err).Str("service", "channel").Str("peerID", string(peerID)).Str("type", string(msg.Type)).Msg("send failed")
		return false
	}

	m.sent++
	return true
}

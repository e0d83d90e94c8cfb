package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/signal"
)

type fakeSender struct {
	lock    sync.Mutex
	signals []signal.Signal
}

func (s *fakeSender) Send(sig signal.Signal) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.signals = append(s.signals, sig)
	return nil
}

func (s *fakeSender) count() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.signals)
}

type fakeBroadcaster struct {
	lock sync.Mutex
	msgs []*core.SyncMessage
}

func (b *fakeBroadcaster) Broadcast(msg *core.SyncMessage, _ core.UserID) int {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.msgs = append(b.msgs, msg)
	return 1
}

func newRoster() *Roster {
	r := NewRoster()
	session := core.NewSession("s1", "Session", "alice", time.UnixMilli(0))
	r.Reset(session)
	r.Join(&core.User{ID: "alice", DisplayName: "Alice"}, time.UnixMilli(10))
	r.Join(&core.User{ID: "bob", DisplayName: "Bob"}, time.UnixMilli(20))
	return r
}

func TestRoster(t *testing.T) {
	r := newRoster()

	require.Len(t, r.Online(), 2)
	alice := r.User("alice")
	require.NotNil(t, alice)
	assert.True(t, alice.IsOwner)
	assert.Equal(t, int64(10), alice.LastSeen)

	assert.True(t, r.UpdatePresence("bob", core.PresencePayload{IsOnline: false, LastSeen: 30}))
	assert.Len(t, r.Online(), 1)
	assert.False(t, r.UpdatePresence("carol", core.PresencePayload{IsOnline: true}))

	assert.True(t, r.UpdateCursor("alice", core.Cursor{X: 1, Y: 2}, time.UnixMilli(40)))
	assert.Equal(t, &core.Cursor{X: 1, Y: 2}, r.User("alice").Cursor)

	left := r.Leave("bob")
	require.NotNil(t, left)
	assert.False(t, left.IsOnline)
	assert.Nil(t, r.User("bob"))
	assert.Nil(t, r.Leave("bob"))
}

func TestRosterReturnsCopies(t *testing.T) {
	r := newRoster()

	snapshot := r.Session()
	snapshot.Users[0].DisplayName = "mutated"
	r.Online()[0].IsOnline = false

	assert.Equal(t, "Alice", r.User("alice").DisplayName)
	assert.Len(t, r.Online(), 2)
}

func TestBeat(t *testing.T) {
	sender, bus := &fakeSender{}, &fakeBroadcaster{}
	r := newRoster()
	m := NewMonitor("alice", time.Minute, sender, bus, r, func() time.Time { return time.UnixMilli(500) })

	m.Beat()

	require.Len(t, sender.signals, 1)
	hb, ok := sender.signals[0].(*signal.Heartbeat)
	require.True(t, ok)
	assert.Equal(t, core.UserID("alice"), hb.UserID)
	assert.Equal(t, int64(500), hb.Timestamp)

	require.Len(t, bus.msgs, 1)
	assert.Equal(t, core.PresenceMessage, bus.msgs[0].Type)
	var p core.PresencePayload
	require.NoError(t, bus.msgs[0].DecodePayload(&p))
	assert.True(t, p.IsOnline)
	assert.Equal(t, int64(500), r.User("alice").LastSeen)
}

func TestHandlePresence(t *testing.T) {
	r := newRoster()
	m := NewMonitor("alice", time.Minute, &fakeSender{}, &fakeBroadcaster{}, r, nil)

	msg, err := core.NewSyncMessage(core.PresenceMessage, "bob", 99, core.PresencePayload{IsOnline: false, LastSeen: 99})
	require.NoError(t, err)
	require.NoError(t, m.HandlePresence(msg))

	bob := r.User("bob")
	assert.False(t, bob.IsOnline)
	assert.Equal(t, int64(99), bob.LastSeen)
}

func TestMonitorTicks(t *testing.T) {
	sender := &fakeSender{}
	m := NewMonitor("alice", 10*time.Millisecond, sender, &fakeBroadcaster{}, newRoster(), nil)

	m.Start()
	m.Start()
	assert.Eventually(t, func() bool { return sender.count() >= 2 }, time.Second, 5*time.Millisecond)

	m.Stop()
	n := sender.count()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, sender.count(), n+1)
}

package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/relay"
	"github.com/isqad/livelook-collab/internal/repository"
	"github.com/isqad/livelook-collab/internal/signal"
)

type recorder struct {
	lock    sync.Mutex
	signals []signal.Signal
}

func (r *recorder) Write(msg []byte) error {
	s, err := signal.FromBytes(msg)
	if err != nil {
		return err
	}
	r.lock.Lock()
	r.signals = append(r.signals, s)
	r.lock.Unlock()
	return nil
}

func (r *recorder) types() []signal.Type {
	r.lock.Lock()
	defer r.lock.Unlock()

	out := make([]signal.Type, 0, len(r.signals))
	for _, s := range r.signals {
		out = append(out, s.GetType())
	}
	return out
}

func (r *recorder) last() signal.Signal {
	r.lock.Lock()
	defer r.lock.Unlock()

	if len(r.signals) == 0 {
		return nil
	}
	return r.signals[len(r.signals)-1]
}

func newTestHub() (*Hub, *repository.Memory) {
	repo := repository.NewMemory()
	hub := NewHub(relay.NewLocal(), repo)
	hub.clock = func() time.Time { return time.UnixMilli(5000) }
	return hub, repo
}

func join(t *testing.T, hub *Hub, sessionID string, id core.UserID) *recorder {
	w := &recorder{}
	require.NoError(t, hub.Join(context.Background(), w, signal.NewJoin(sessionID, &core.User{ID: id, DisplayName: string(id)})))
	return w
}

func TestHubJoin(t *testing.T) {
	hub, repo := newTestHub()

	alice := join(t, hub, "s1", "alice")

	info, ok := alice.last().(*signal.SessionInfo)
	require.True(t, ok)
	assert.Equal(t, core.UserID("alice"), info.Session.OwnerID)
	require.Len(t, info.Session.Users, 1)
	assert.True(t, info.Session.Users[0].IsOwner)
	assert.True(t, info.Session.Users[0].IsOnline)
	assert.Equal(t, int64(5000), info.Session.Users[0].LastSeen)

	_, err := repo.Find(context.Background(), "s1")
	assert.NoError(t, err, "new session is stored")

	bob := join(t, hub, "s1", "bob")

	info, ok = bob.last().(*signal.SessionInfo)
	require.True(t, ok)
	assert.Len(t, info.Session.Users, 2)
	assert.Equal(t, []signal.Type{signal.SessionInfoType}, bob.types(), "joiner doesn't see its own user-joined")

	joined, ok := alice.last().(*signal.UserJoined)
	require.True(t, ok)
	assert.Equal(t, core.UserID("bob"), joined.User.ID)
	assert.False(t, joined.User.IsOwner)
}

func TestHubSessionFull(t *testing.T) {
	hub, repo := newTestHub()

	maxUsers := 1
	session := core.NewSession("s1", "tiny", "alice", time.Now())
	session.Settings.MaxUsers = &maxUsers
	require.NoError(t, repo.Create(context.Background(), &repository.Record{Session: session}))

	join(t, hub, "s1", "alice")

	err := hub.Join(context.Background(), &recorder{}, signal.NewJoin("s1", &core.User{ID: "bob"}))
	assert.ErrorIs(t, err, ErrSessionFull)
	assert.Len(t, hub.Members("s1"), 1)

	t.Run("rejoin of a member is accepted", func(t *testing.T) {
		w := &recorder{}
		require.NoError(t, hub.Join(context.Background(), w, signal.NewJoin("s1", &core.User{ID: "alice"})))
		assert.Equal(t, []signal.Type{signal.SessionInfoType}, w.types())
	})
}

func TestHubLeave(t *testing.T) {
	hub, _ := newTestHub()
	ctx := context.Background()

	alice := join(t, hub, "s1", "alice")
	bob := join(t, hub, "s1", "bob")

	require.NoError(t, hub.Leave(ctx, "s1", "bob", bob))

	left, ok := alice.last().(*signal.UserLeft)
	require.True(t, ok)
	assert.Equal(t, core.UserID("bob"), left.UserID)
	assert.Len(t, hub.Members("s1"), 1)

	t.Run("stale socket leaves silently", func(t *testing.T) {
		carol := join(t, hub, "s1", "carol")
		newer := join(t, hub, "s1", "carol")

		n := len(alice.types())
		require.NoError(t, hub.Leave(ctx, "s1", "carol", carol))
		assert.Len(t, alice.types(), n)
		require.NoError(t, hub.Leave(ctx, "s1", "carol", newer))
		assert.IsType(t, &signal.UserLeft{}, alice.last())
	})

	t.Run("last member closes the room", func(t *testing.T) {
		require.NoError(t, hub.Leave(ctx, "s1", "alice", alice))
		assert.Nil(t, hub.Members("s1"))
		assert.ErrorIs(t, hub.Leave(ctx, "s1", "alice", alice), ErrNotJoined)
	})
}

func TestHubRoute(t *testing.T) {
	hub, _ := newTestHub()
	ctx := context.Background()

	alice := join(t, hub, "s1", "alice")
	bob := join(t, hub, "s1", "bob")
	carol := join(t, hub, "s1", "carol")

	offer := signal.NewOffer("alice", "bob", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"})
	require.NoError(t, hub.Route(ctx, "s1", "alice", offer))

	got, ok := bob.last().(*signal.SDP)
	require.True(t, ok)
	assert.Equal(t, signal.OfferType, got.GetType())
	assert.Equal(t, core.UserID("alice"), got.From())

	assert.NotContains(t, carol.types(), signal.OfferType)
	assert.NotContains(t, alice.types(), signal.OfferType)

	spoofed := signal.NewICECandidate("carol", "bob", webrtc.ICECandidateInit{Candidate: "candidate:1"})
	assert.ErrorIs(t, hub.Route(ctx, "s1", "alice", spoofed), ErrWrongSender)
}

func TestHubSyncState(t *testing.T) {
	hub, repo := newTestHub()
	ctx := context.Background()

	alice := join(t, hub, "s1", "alice")
	bob := join(t, hub, "s1", "bob")

	state := core.SharedState{Theme: "dark", Colors: map[string]string{"bg": "#000"}, Version: 2, LastModifiedBy: "alice"}
	require.NoError(t, hub.SyncState(ctx, "s1", "alice", signal.NewStateSync(state)))

	got, ok := bob.last().(*signal.StateSync)
	require.True(t, ok)
	assert.Equal(t, "dark", got.State.Theme)
	assert.NotContains(t, alice.types(), signal.StateSyncType)

	rec, err := repo.Find(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.State.Version)

	t.Run("late joiner gets the latest state", func(t *testing.T) {
		carol := join(t, hub, "s1", "carol")
		info := carol.last().(*signal.SessionInfo)
		assert.Equal(t, "dark", info.State.Theme)
	})

	t.Run("stale state is relayed but not stored", func(t *testing.T) {
		stale := core.SharedState{Theme: "light", Colors: map[string]string{}, Version: 1}
		require.NoError(t, hub.SyncState(ctx, "s1", "bob", signal.NewStateSync(stale)))

		rec, err := repo.Find(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "dark", rec.State.Theme)
		assert.IsType(t, &signal.StateSync{}, alice.last())
	})
}

func TestHubHeartbeat(t *testing.T) {
	hub, _ := newTestHub()

	join(t, hub, "s1", "alice")
	hub.clock = func() time.Time { return time.UnixMilli(9000) }

	require.NoError(t, hub.Heartbeat("s1", "alice"))
	assert.Equal(t, int64(9000), hub.Members("s1")[0].LastSeen)

	assert.ErrorIs(t, hub.Heartbeat("nope", "alice"), ErrNotJoined)
}

func TestHubJoinRacingLastLeave(t *testing.T) {
	hub, _ := newTestHub()
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		alice := join(t, hub, "s1", "alice")
		bob := &recorder{}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, hub.Leave(ctx, "s1", "alice", alice))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, hub.Join(ctx, bob, signal.NewJoin("s1", &core.User{ID: "bob"})))
		}()
		wg.Wait()

		rm := hub.room("s1")
		require.NotNil(t, rm, "joined member's room is registered")
		rm.lock.Lock()
		registered := rm.local["bob"] == bob
		rm.lock.Unlock()
		require.True(t, registered)

		carol := join(t, hub, "s1", "carol")
		joined, ok := bob.last().(*signal.UserJoined)
		require.True(t, ok, "relay still reaches the joiner")
		assert.Equal(t, core.UserID("carol"), joined.User.ID)

		require.NoError(t, hub.Leave(ctx, "s1", "carol", carol))
		require.NoError(t, hub.Leave(ctx, "s1", "bob", bob))
		require.Nil(t, hub.room("s1"))
	}
}

package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/signal"
)

func newTestServer(t *testing.T) *httptest.Server {
	app := New(AppOptions{Env: core.DevelopmentEnv})

	ts := httptest.NewServer(app.Router())
	t.Cleanup(ts.Close)

	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, sig signal.Signal) {
	data, err := sig.ToJSON()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func receive(t *testing.T, conn *websocket.Conn) signal.Signal {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	sig, err := signal.FromBytes(data)
	require.NoError(t, err)
	return sig
}

func TestServerSignaling(t *testing.T) {
	ts := newTestServer(t)

	alice := dial(t, ts)
	send(t, alice, signal.NewJoin("s1", &core.User{ID: "alice", DisplayName: "Alice"}))
	info, ok := receive(t, alice).(*signal.SessionInfo)
	require.True(t, ok)
	assert.Equal(t, core.UserID("alice"), info.Session.OwnerID)

	bob := dial(t, ts)
	send(t, bob, signal.NewJoin("s1", &core.User{ID: "bob", DisplayName: "Bob"}))
	info, ok = receive(t, bob).(*signal.SessionInfo)
	require.True(t, ok)
	assert.Len(t, info.Session.Users, 2)

	joined, ok := receive(t, alice).(*signal.UserJoined)
	require.True(t, ok)
	assert.Equal(t, core.UserID("bob"), joined.User.ID)

	state := core.SharedState{Theme: "dark", Colors: map[string]string{}, Version: 1, LastModifiedBy: "bob"}
	send(t, bob, signal.NewStateSync(state))
	synced, ok := receive(t, alice).(*signal.StateSync)
	require.True(t, ok)
	assert.Equal(t, int64(1), synced.State.Version)

	send(t, bob, signal.NewLeave("s1", "bob"))
	left, ok := receive(t, alice).(*signal.UserLeft)
	require.True(t, ok)
	assert.Equal(t, core.UserID("bob"), left.UserID)
}

func TestServerDisconnectAnnouncesLeave(t *testing.T) {
	ts := newTestServer(t)

	alice := dial(t, ts)
	send(t, alice, signal.NewJoin("s1", &core.User{ID: "alice"}))
	receive(t, alice)

	bob := dial(t, ts)
	send(t, bob, signal.NewJoin("s1", &core.User{ID: "bob"}))
	receive(t, bob)
	receive(t, alice)

	require.NoError(t, bob.Close())

	left, ok := receive(t, alice).(*signal.UserLeft)
	require.True(t, ok)
	assert.Equal(t, core.UserID("bob"), left.UserID)
}

func TestServerProbes(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerSessionEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/sessions/s1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	alice := dial(t, ts)
	send(t, alice, signal.NewJoin("s1", &core.User{ID: "alice"}))
	receive(t, alice)

	resp, err = http.Get(ts.URL + "/sessions/s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	sig, err := signal.FromReader(resp.Body)
	require.NoError(t, err)
	info, ok := sig.(*signal.SessionInfo)
	require.True(t, ok)
	assert.Equal(t, "s1", info.Session.ID)
	assert.Len(t, info.Session.Users, 1)
}

package signaling

import (
	"context"
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

type testServer struct {
	*httptest.Server
	conns    chan *websocket.Conn
	sessions chan string
}

func newTestServer(t *testing.T) *testServer {
	upgrader := websocket.Upgrader{}
	s := &testServer{
		conns:    make(chan *websocket.Conn, 1),
		sessions: make(chan string, 1),
	}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		s.sessions <- r.URL.Query().Get("session")
		s.conns <- conn
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func write(t *testing.T, conn *websocket.Conn, sig signal.Signal) {
	data, err := sig.ToJSON()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestClientRoutesSignals(t *testing.T) {
	server := newTestServer(t)

	infos := make(chan *signal.SessionInfo, 1)
	joined := make(chan *signal.UserJoined, 1)
	offers := make(chan *signal.SDP, 1)

	client, err := NewClient(server.wsURL(), Handlers{
		OnSessionInfo: func(s *signal.SessionInfo) { infos <- s },
		OnUserJoined:  func(s *signal.UserJoined) { joined <- s },
		OnOffer:       func(s *signal.SDP) { offers <- s },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx, "room-1"))
	defer client.Close()

	assert.Equal(t, "room-1", <-server.sessions)
	conn := <-server.conns
	defer conn.Close()

	session := core.NewSession("room-1", "Room", "owner", time.UnixMilli(0))
	write(t, conn, signal.NewSessionInfo(session, &core.SharedState{Version: 2}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)))
	write(t, conn, signal.NewUserJoined(&core.User{ID: "bob"}))

	select {
	case info := <-infos:
		assert.Equal(t, "room-1", info.Session.ID)
		assert.Equal(t, int64(2), info.State.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("session-info not routed")
	}
	select {
	case s := <-joined:
		assert.Equal(t, core.UserID("bob"), s.User.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("user-joined not routed")
	}
	assert.Empty(t, offers)

	require.NoError(t, client.Send(signal.NewHeartbeat("me", 42)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	got, err := signal.FromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, signal.HeartbeatType, got.GetType())
}

func TestClientSendWithoutConnectionIsNoop(t *testing.T) {
	client, err := NewClient("ws://127.0.0.1:1/ws", Handlers{})
	require.NoError(t, err)

	assert.False(t, client.IsOpen())
	assert.NoError(t, client.Send(signal.NewHeartbeat("me", 1)))
}

func TestClientConnectFailure(t *testing.T) {
	client, err := NewClient("ws://127.0.0.1:1/ws", Handlers{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, client.Connect(ctx, "room"))
	assert.False(t, client.IsOpen())
}

func TestClientReportsLostConnection(t *testing.T) {
	server := newTestServer(t)

	lost := make(chan error, 1)
	client, err := NewClient(server.wsURL(), Handlers{
		OnClose: func(err error) { lost <- err },
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background(), "room"))
	conn := <-server.conns
	conn.Close()

	select {
	case <-lost:
	case <-time.After(5 * time.Second):
		t.Fatal("connection loss not reported")
	}
	assert.False(t, client.IsOpen())
}

func TestClientCloseDoesNotReportLoss(t *testing.T) {
	server := newTestServer(t)

	lost := make(chan error, 1)
	client, err := NewClient(server.wsURL(), Handlers{
		OnClose: func(err error) { lost <- err },
	})
	require.NoError(t, err)

	require.NoError(t, client.Connect(context.Background(), "room"))
	conn := <-server.conns
	defer conn.Close()

	client.Close()

	select {
	case <-lost:
		t.Fatal("explicit close reported as loss")
	case <-time.After(300 * time.Millisecond):
	}
}

package rtc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-collab/internal/channel"
	"github.com/isqad/livelook-collab/internal/config"
	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/signal"
)

// pipe keeps signals of one direction in order
type pipe struct {
	ch chan signal.Signal
}

func newPipe() *pipe {
	return &pipe{ch: make(chan signal.Signal, 256)}
}

func (p *pipe) Send(s signal.Signal) error {
	p.ch <- s
	return nil
}

func (p *pipe) pump(s *Supervisor) {
	for sig := range p.ch {
		switch v := sig.(type) {
		case *signal.SDP:
			if v.Type == signal.OfferType {
				_ = s.HandleOffer(v)
			} else {
				_ = s.HandleAnswer(v)
			}
		case *signal.ICECandidate:
			_ = s.HandleICECandidate(v)
		}
	}
}

type recordingHandler struct {
	lock     sync.Mutex
	opened   chan channel.Channel
	messages chan []byte
	closed   []core.UserID
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan channel.Channel, 4),
		messages: make(chan []byte, 16),
	}
}

func (h *recordingHandler) ChannelOpened(_ core.UserID, ch channel.Channel) { h.opened <- ch }
func (h *recordingHandler) MessageReceived(_ core.UserID, data []byte)      { h.messages <- data }

func (h *recordingHandler) LinkClosed(peerID core.UserID) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.closed = append(h.closed, peerID)
}

func (h *recordingHandler) closedPeers() []core.UserID {
	h.lock.Lock()
	defer h.lock.Unlock()
	return append([]core.UserID(nil), h.closed...)
}

func TestSupervisorLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	conf, err := config.NewWebRTCConfig(config.RTCConfig{})
	require.NoError(t, err)

	toAlice, toBob := newPipe(), newPipe()
	aliceHandler, bobHandler := newRecordingHandler(), newRecordingHandler()

	alice := NewSupervisor("alice", conf, toBob, aliceHandler)
	bob := NewSupervisor("bob", conf, toAlice, bobHandler)
	defer alice.CloseAll()
	defer bob.CloseAll()

	go toAlice.pump(alice)
	go toBob.pump(bob)
	defer close(toAlice.ch)
	defer close(toBob.ch)

	// alice was already in the room when bob joined
	require.NoError(t, alice.HandleUserJoined("bob"))

	var aliceCh, bobCh channel.Channel
	select {
	case aliceCh = <-aliceHandler.opened:
	case <-time.After(20 * time.Second):
		t.Fatal("initiator channel did not open")
	}
	select {
	case bobCh = <-bobHandler.opened:
	case <-time.After(20 * time.Second):
		t.Fatal("joiner channel did not open")
	}

	require.NoError(t, aliceCh.Send([]byte(`{"hello":"bob"}`)))
	select {
	case data := <-bobHandler.messages:
		assert.JSONEq(t, `{"hello":"bob"}`, string(data))
	case <-time.After(10 * time.Second):
		t.Fatal("message was not delivered")
	}

	assert.True(t, bobCh.IsOpen())
	assert.Equal(t, []core.UserID{"bob"}, alice.Peers())
	assert.Equal(t, []core.UserID{"alice"}, bob.Peers())

	bob.HandleUserLeft("alice")
	assert.Empty(t, bob.Peers())
	assert.Equal(t, []core.UserID{"alice"}, bobHandler.closedPeers())
}

func TestSupervisorIgnoresSelfAndUnknownPeers(t *testing.T) {
	conf, err := config.NewWebRTCConfig(config.RTCConfig{})
	require.NoError(t, err)

	out := newPipe()
	s := NewSupervisor("alice", conf, out, newRecordingHandler())

	require.NoError(t, s.HandleUserJoined("alice"))
	assert.Empty(t, s.Peers())
	assert.Empty(t, out.ch)

	answer := signal.NewAnswer("bob", "alice", brokenDescription())
	assert.ErrorIs(t, s.HandleAnswer(answer), errNoPeerLink)
	assert.ErrorIs(t, s.HandleICECandidate(signal.NewICECandidate("bob", "alice", iceStub())), errNoPeerLink)

	s.HandleUserLeft("bob")
}

func TestSupervisorRejectsOfferWithoutDataSection(t *testing.T) {
	conf, err := config.NewWebRTCConfig(config.RTCConfig{})
	require.NoError(t, err)

	handler := newRecordingHandler()
	s := NewSupervisor("alice", conf, newPipe(), handler)

	offer := signal.NewOffer("bob", "alice", brokenDescription())
	assert.Error(t, s.HandleOffer(offer))
	assert.Empty(t, s.Peers(), "failed handshake leaves the slot absent")
	assert.Equal(t, []core.UserID{"bob"}, handler.closedPeers())
}

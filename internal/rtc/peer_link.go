package rtc

import (
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/config"
	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/signal"
	"github.com/isqad/livelook-collab/internal/telemetry"
)

// PeerLink is the transport to a single remote user together with its one
// reliable data channel
type PeerLink struct {
	PeerID    core.UserID
	localID   core.UserID
	initiator bool

	transport *PCTransport
	sender    SignalSender
	handler   Handler
	onFailed  func(*PeerLink)

	lock      sync.Mutex
	dc        *webrtc.DataChannel
	connected bool
	closed    bool
}

func newPeerLink(
	localID core.UserID,
	peerID core.UserID,
	initiator bool,
	conf *config.WebRTCConfig,
	sender SignalSender,
	handler Handler,
	onFailed func(*PeerLink),
) (*PeerLink, error) {
	transport, err := NewPCTransport(conf)
	if err != nil {
		return nil, err
	}

	l := &PeerLink{
		PeerID:    peerID,
		localID:   localID,
		initiator: initiator,
		transport: transport,
		sender:    sender,
		handler:   handler,
		onFailed:  onFailed,
	}

	transport.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if err := l.sendICECandidate(candidate); err != nil {
			log.Error().Err(err).Str("service", "peer_link").Str("peerID", string(l.PeerID)).Msg("error on send ICE candidate")
		}
	})
	transport.pc.OnConnectionStateChange(l.handleStateChange)

	// joiner waits for the initiator's channel
	if !initiator {
		transport.pc.OnDataChannel(l.onDataChannel)
	}

	return l, nil
}

// Offer opens the reliable channel and sends the offer to the peer
func (l *PeerLink) Offer() error {
	ordered := true
	dc, err := l.transport.pc.CreateDataChannel(ReliableDataChannel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return err
	}
	l.bindDataChannel(dc)

	offer, err := l.transport.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := l.transport.pc.SetLocalDescription(offer); err != nil {
		return err
	}

	log.Debug().Str("service", "peer_link").Str("peerID", string(l.PeerID)).Msg("send offer")

	return l.sender.Send(signal.NewOffer(l.localID, l.PeerID, offer))
}

func (l *PeerLink) HandleOffer(offer webrtc.SessionDescription) error {
	if err := ValidateDescription(offer); err != nil {
		return err
	}
	if err := l.transport.SetRemoteDescription(offer); err != nil {
		return err
	}

	answer, err := l.transport.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := l.transport.pc.SetLocalDescription(answer); err != nil {
		return err
	}

	log.Debug().Str("service", "peer_link").Str("peerID", string(l.PeerID)).Msg("send answer")

	return l.sender.Send(signal.NewAnswer(l.localID, l.PeerID, answer))
}

func (l *PeerLink) HandleAnswer(answer webrtc.SessionDescription) error {
	if err := ValidateDescription(answer); err != nil {
		return err
	}
	return l.transport.SetRemoteDescription(answer)
}

func (l *PeerLink) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return l.transport.AddICECandidate(candidate)
}

func (l *PeerLink) sendICECandidate(candidate *webrtc.ICECandidate) error {
	if candidate == nil {
		return nil
	}

	return l.sender.Send(signal.NewICECandidate(l.localID, l.PeerID, candidate.ToJSON()))
}

func (l *PeerLink) onDataChannel(dc *webrtc.DataChannel) {
	switch dc.Label() {
	case ReliableDataChannel:
		l.bindDataChannel(dc)
	default:
		log.Error().Str("service", "peer_link").Str("peerID", string(l.PeerID)).Str("label", dc.Label()).Msg("unsupported datachannel added")
	}
}

func (l *PeerLink) bindDataChannel(dc *webrtc.DataChannel) {
	l.lock.Lock()
	if l.dc != nil {
		l.lock.Unlock()
		log.Warn().Str("service", "peer_link").Str("peerID", string(l.PeerID)).Msg("second datachannel ignored")
		_ = dc.Close()
		return
	}
	l.dc = dc
	l.lock.Unlock()

	dc.OnOpen(func() {
		log.Debug().Str("service", "peer_link").Str("peerID", string(l.PeerID)).Msg("datachannel open")
		l.handler.ChannelOpened(l.PeerID, NewDataChannel(dc))
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		l.handler.MessageReceived(l.PeerID, msg.Data)
	})
}

func (l *PeerLink) handleStateChange(state webrtc.PeerConnectionState) {
	log.Debug().Str("service", "peer_link").Str("peerID", string(l.PeerID)).Str("state", state.String()).Msg("connection state changed")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		telemetry.ServiceOperationCounter.WithLabelValues("peer_connection", "success", "").Add(1)
		l.lock.Lock()
		if !l.connected {
			l.connected = true
			telemetry.PeerConnected()
		}
		l.lock.Unlock()
	case webrtc.PeerConnectionStateFailed:
		telemetry.ServiceOperationCounter.WithLabelValues("peer_connection", "error", "state_failed").Add(1)
		if l.onFailed != nil {
			l.onFailed(l)
		}
	}
}

func (l *PeerLink) Close() {
	l.lock.Lock()
	if l.closed {
		l.lock.Unlock()
		return
	}
	l.closed = true
	if l.connected {
		l.connected = false
		telemetry.PeerDisconnected()
	}
	l.lock.Unlock()

	log.Debug().Str("service", "peer_link").Str("peerID", string(l.PeerID)).Msg("close peer link")

	// Close blocks while candidates are being gathered
	go l.transport.Close()
}

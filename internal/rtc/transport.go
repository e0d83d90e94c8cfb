package rtc

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/config"
)

const (
	dtlsRetransmissionInterval = 100 * time.Millisecond
	iceDisconnectedTimeout     = 10 * time.Second
	iceFailedTimeout           = 25 * time.Second // pion's default
	iceKeepaliveInterval       = 2 * time.Second  // pion's default
)

// PCTransport wraps a data-only peer connection. Remote ICE candidates that
// arrive before the remote description are held back and applied after it.
type PCTransport struct {
	pc *webrtc.PeerConnection

	lock              sync.Mutex
	pendingCandidates []webrtc.ICECandidateInit
}

func NewPCTransport(conf *config.WebRTCConfig) (*PCTransport, error) {
	pc, err := newPeerConnection(conf)
	if err != nil {
		return nil, err
	}

	t := &PCTransport{
		pc:                pc,
		pendingCandidates: make([]webrtc.ICECandidateInit, 0),
	}

	t.pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		if state == webrtc.ICEGathererStateComplete {
			log.Debug().Str("service", "rtc").Msg("ICE gathering complete")
		}
	})

	return t, nil
}

func newPeerConnection(conf *config.WebRTCConfig) (*webrtc.PeerConnection, error) {
	se := conf.SettingEngine
	se.SetDTLSRetransmissionInterval(dtlsRetransmissionInterval)
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))

	return api.NewPeerConnection(conf.Configuration)
}

func (t *PCTransport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.pc.RemoteDescription() != nil {
		return t.pc.AddICECandidate(candidate)
	}

	t.pendingCandidates = append(t.pendingCandidates, candidate)

	return nil
}

func (t *PCTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if err := t.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	for _, candidate := range t.pendingCandidates {
		if err := t.pc.AddICECandidate(candidate); err != nil {
			log.Warn().Err(err).Str("service", "rtc").Msg("drop pending ICE candidate")
		}
	}

	t.pendingCandidates = make([]webrtc.ICECandidateInit, 0)

	return nil
}

func (t *PCTransport) PendingCandidates() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.pendingCandidates)
}

func (t *PCTransport) Close() {
	_ = t.pc.Close()
}

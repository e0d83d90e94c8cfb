package rtc

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-collab/internal/channel"
	"github.com/isqad/livelook-collab/internal/config"
	"github.com/isqad/livelook-collab/internal/core"
	"github.com/isqad/livelook-collab/internal/signal"
	"github.com/isqad/livelook-collab/internal/telemetry"
)

var errNoPeerLink = errors.New("peer link is not initialized")

// SignalSender delivers control messages to the signaling server
type SignalSender interface {
	Send(s signal.Signal) error
}

// Handler receives data plane callbacks. They are invoked from pion
// goroutines.
type Handler interface {
	ChannelOpened(peerID core.UserID, ch channel.Channel)
	MessageReceived(peerID core.UserID, data []byte)
	LinkClosed(peerID core.UserID)
}

// Supervisor owns one PeerLink per remote user. A failed handshake leaves
// the slot empty until the next user-joined signal.
type Supervisor struct {
	localID core.UserID
	conf    *config.WebRTCConfig
	sender  SignalSender
	handler Handler

	lock  sync.Mutex
	links map[core.UserID]*PeerLink
}

func NewSupervisor(localID core.UserID, conf *config.WebRTCConfig, sender SignalSender, handler Handler) *Supervisor {
	return &Supervisor{
		localID: localID,
		conf:    conf,
		sender:  sender,
		handler: handler,
		links:   make(map[core.UserID]*PeerLink),
	}
}

// HandleUserJoined makes this side the initiator towards the new peer
func (s *Supervisor) HandleUserJoined(peerID core.UserID) error {
	if peerID == s.localID {
		return nil
	}

	link, err := newPeerLink(s.localID, peerID, true, s.conf, s.sender, s.handler, s.linkFailed)
	if err != nil {
		s.handshakeFailed(peerID, "create", err)
		return err
	}
	s.replace(peerID, link)

	if err := link.Offer(); err != nil {
		s.drop(link)
		s.handshakeFailed(peerID, "offer", err)
		return err
	}

	return nil
}

// HandleOffer answers an initiator. An offer racing our own offer to the same
// peer is settled by user id: the smaller id keeps initiating.
func (s *Supervisor) HandleOffer(sdp *signal.SDP) error {
	peerID := sdp.UserID

	s.lock.Lock()
	existing := s.links[peerID]
	s.lock.Unlock()

	if existing != nil && existing.initiator && s.localID < peerID {
		log.Debug().Str("service", "rtc").Str("peerID", string(peerID)).Msg("ignore glaring offer")
		return nil
	}

	link, err := newPeerLink(s.localID, peerID, false, s.conf, s.sender, s.handler, s.linkFailed)
	if err != nil {
		s.handshakeFailed(peerID, "create", err)
		return err
	}
	s.replace(peerID, link)

	if err := link.HandleOffer(*sdp.Offer); err != nil {
		s.drop(link)
		s.handshakeFailed(peerID, "answer", err)
		return err
	}

	return nil
}

func (s *Supervisor) HandleAnswer(sdp *signal.SDP) error {
	link := s.get(sdp.UserID)
	if link == nil {
		return errNoPeerLink
	}

	if err := link.HandleAnswer(*sdp.Answer); err != nil {
		s.drop(link)
		s.handshakeFailed(sdp.UserID, "answer", err)
		return err
	}

	return nil
}

func (s *Supervisor) HandleICECandidate(c *signal.ICECandidate) error {
	link := s.get(c.UserID)
	if link == nil {
		return errNoPeerLink
	}

	return link.AddICECandidate(c.Candidate)
}

// HandleUserLeft tears the peer link down
func (s *Supervisor) HandleUserLeft(peerID core.UserID) {
	link := s.get(peerID)
	if link == nil {
		return
	}
	s.drop(link)
}

func (s *Supervisor) Peers() []core.UserID {
	s.lock.Lock()
	defer s.lock.Unlock()

	ids := make([]core.UserID, 0, len(s.links))
	for id := range s.links {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) CloseAll() {
	s.lock.Lock()
	links := s.links
	s.links = make(map[core.UserID]*PeerLink)
	s.lock.Unlock()

	for _, link := range links {
		link.Close()
	}
}

func (s *Supervisor) get(peerID core.UserID) *PeerLink {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.links[peerID]
}

func (s *Supervisor) replace(peerID core.UserID, link *PeerLink) {
	s.lock.Lock()
	prev := s.links[peerID]
	s.links[peerID] = link
	s.lock.Unlock()

	if prev != nil {
		prev.Close()
		s.handler.LinkClosed(peerID)
	}
}

// drop removes the link if it is still the current one for its peer
func (s *Supervisor) drop(link *PeerLink) {
	s.lock.Lock()
	current := s.links[link.PeerID] == link
	if current {
		delete(s.links, link.PeerID)
	}
	s.lock.Unlock()

	link.Close()
	if current {
		s.handler.LinkClosed(link.PeerID)
	}
}

func (s *Supervisor) linkFailed(link *PeerLink) {
	log.Warn().Str("service", "rtc").Str("peerID", string(link.PeerID)).Msg("peer connection failed")
	s.drop(link)
}

func (s *Supervisor) handshakeFailed(peerID core.UserID, stage string, err error) {
	telemetry.ServiceOperationCounter.WithLabelValues("peer_handshake", "error", stage).Add(1)
	log.Error().Err(err).Str("service", "rtc").Str("peerID", string(peerID)).Str("stage", stage).Msg("handshake failed")
}

package signal

import (
	"fmt"

	"github.com/isqad/livelook-collab/internal/core"
	"github.com/pion/webrtc/v3"
)

type Join struct {
	head
	SessionID string     `json:"sessionId"`
	User      *core.User `json:"user"`
}

func NewJoin(sessionID string, user *core.User) *Join {
	return &Join{head: head{JoinType}, SessionID: sessionID, User: user}
}

func (s *Join) ToJSON() ([]byte, error) { return marshal(s) }

func (s *Join) validate() error {
	if s.SessionID == "" || s.User == nil || s.User.ID == "" {
		return fmt.Errorf("%w: join requires sessionId and user", ErrMalformedSignal)
	}
	return nil
}

type Leave struct {
	head
	SessionID string      `json:"sessionId"`
	UserID    core.UserID `json:"userId"`
}

func NewLeave(sessionID string, userID core.UserID) *Leave {
	return &Leave{head: head{LeaveType}, SessionID: sessionID, UserID: userID}
}

func (s *Leave) ToJSON() ([]byte, error) { return marshal(s) }

// SDP carries both offers and answers, the populated field follows the type
type SDP struct {
	head
	UserID       core.UserID                `json:"userId"`
	TargetUserID core.UserID                `json:"targetUserId"`
	Offer        *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer       *webrtc.SessionDescription `json:"answer,omitempty"`
}

func NewOffer(from, to core.UserID, offer webrtc.SessionDescription) *SDP {
	return &SDP{head: head{OfferType}, UserID: from, TargetUserID: to, Offer: &offer}
}

func NewAnswer(from, to core.UserID, answer webrtc.SessionDescription) *SDP {
	return &SDP{head: head{AnswerType}, UserID: from, TargetUserID: to, Answer: &answer}
}

func (s *SDP) ToJSON() ([]byte, error) { return marshal(s) }
func (s *SDP) From() core.UserID       { return s.UserID }
func (s *SDP) To() core.UserID         { return s.TargetUserID }

// Description returns whichever session description matches the type
func (s *SDP) Description() *webrtc.SessionDescription {
	if s.Type == OfferType {
		return s.Offer
	}
	return s.Answer
}

func (s *SDP) validate() error {
	if s.Description() == nil {
		return fmt.Errorf("%w: %s without session description", ErrMalformedSignal, s.Type)
	}
	return nil
}

type ICECandidate struct {
	head
	UserID       core.UserID             `json:"userId"`
	TargetUserID core.UserID             `json:"targetUserId"`
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
}

func NewICECandidate(from, to core.UserID, candidate webrtc.ICECandidateInit) *ICECandidate {
	return &ICECandidate{head: head{ICECandidateType}, UserID: from, TargetUserID: to, Candidate: candidate}
}

func (s *ICECandidate) ToJSON() ([]byte, error) { return marshal(s) }
func (s *ICECandidate) From() core.UserID       { return s.UserID }
func (s *ICECandidate) To() core.UserID         { return s.TargetUserID }

type Heartbeat struct {
	head
	UserID    core.UserID `json:"userId"`
	Timestamp int64       `json:"timestamp"`
}

func NewHeartbeat(userID core.UserID, timestamp int64) *Heartbeat {
	return &Heartbeat{head: head{HeartbeatType}, UserID: userID, Timestamp: timestamp}
}

func (s *Heartbeat) ToJSON() ([]byte, error) { return marshal(s) }

type SessionInfo struct {
	head
	Session *core.Session     `json:"session"`
	State   *core.SharedState `json:"state"`
}

func NewSessionInfo(session *core.Session, state *core.SharedState) *SessionInfo {
	return &SessionInfo{head: head{SessionInfoType}, Session: session, State: state}
}

func (s *SessionInfo) ToJSON() ([]byte, error) { return marshal(s) }

func (s *SessionInfo) validate() error {
	if s.Session == nil {
		return fmt.Errorf("%w: session-info without session", ErrMalformedSignal)
	}
	return nil
}

type UserJoined struct {
	head
	User *core.User `json:"user"`
}

func NewUserJoined(user *core.User) *UserJoined {
	return &UserJoined{head: head{UserJoinedType}, User: user}
}

func (s *UserJoined) ToJSON() ([]byte, error) { return marshal(s) }

func (s *UserJoined) validate() error {
	if s.User == nil || s.User.ID == "" {
		return fmt.Errorf("%w: user-joined without user", ErrMalformedSignal)
	}
	return nil
}

type UserLeft struct {
	head
	UserID core.UserID `json:"userId"`
}

func NewUserLeft(userID core.UserID) *UserLeft {
	return &UserLeft{head: head{UserLeftType}, UserID: userID}
}

func (s *UserLeft) ToJSON() ([]byte, error) { return marshal(s) }

type StateSync struct {
	head
	State *core.SharedState `json:"state"`
}

func NewStateSync(state core.SharedState) *StateSync {
	return &StateSync{head: head{StateSyncType}, State: &state}
}

func (s *StateSync) ToJSON() ([]byte, error) { return marshal(s) }

func (s *StateSync) validate() error {
	if s.State == nil {
		return fmt.Errorf("%w: state-sync without state", ErrMalformedSignal)
	}
	return nil
}

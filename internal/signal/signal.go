package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/isqad/livelook-collab/internal/core"
)

type Type string

const (
	JoinType         Type = "join"
	LeaveType        Type = "leave"
	OfferType        Type = "offer"
	AnswerType       Type = "answer"
	ICECandidateType Type = "ice-candidate"
	HeartbeatType    Type = "heartbeat"
	SessionInfoType  Type = "session-info"
	UserJoinedType   Type = "user-joined"
	UserLeftType     Type = "user-left"
	StateSyncType    Type = "state-sync"
)

var (
	ErrUnknownSignalType = errors.New("unknown signal type")
	ErrMalformedSignal   = errors.New("malformed signal")
)

// Signal is a control-plane message exchanged with the signaling server
type Signal interface {
	GetType() Type
	ToJSON() ([]byte, error)
}

type head struct {
	Type Type `json:"type"`
}

func (h head) GetType() Type {
	return h.Type
}

func FromBytes(data []byte) (Signal, error) {
	return FromReader(bytes.NewReader(data))
}

// FromReader decodes one tagged record and returns its concrete signal
func FromReader(reader io.Reader) (Signal, error) {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	h := head{}
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}

	var s Signal
	switch h.Type {
	case JoinType:
		s = &Join{}
	case LeaveType:
		s = &Leave{}
	case OfferType, AnswerType:
		s = &SDP{}
	case ICECandidateType:
		s = &ICECandidate{}
	case HeartbeatType:
		s = &Heartbeat{}
	case SessionInfoType:
		s = &SessionInfo{}
	case UserJoinedType:
		s = &UserJoined{}
	case UserLeftType:
		s = &UserLeft{}
	case StateSyncType:
		s = &StateSync{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignalType, h.Type)
	}

	if err := json.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSignal, err)
	}

	if v, ok := s.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

type validator interface {
	validate() error
}

func marshal(s Signal) ([]byte, error) {
	return json.Marshal(s)
}

// Routed is implemented by signals addressed to one particular user
type Routed interface {
	Signal
	From() core.UserID
	To() core.UserID
}

package core

import (
	"encoding/json"
	"errors"
)

type SyncMessageType string

const (
	StateMessage     SyncMessageType = "state"
	DeltaMessage     SyncMessageType = "delta"
	CursorMessage    SyncMessageType = "cursor"
	SelectionMessage SyncMessageType = "selection"
	PresenceMessage  SyncMessageType = "presence"
)

var ErrUnknownSyncMessage = errors.New("unknown sync message type")

// SyncMessage is the only unit exchanged over peer channels
type SyncMessage struct {
	Type      SyncMessageType `json:"type"`
	SenderID  UserID          `json:"senderId"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Version   *int64          `json:"version,omitempty"`
}

type DeltaPayload struct {
	BaseVersion int64      `json:"baseVersion"`
	Patch       StatePatch `json:"patch"`
}

type PresencePayload struct {
	IsOnline bool  `json:"isOnline"`
	LastSeen int64 `json:"lastSeen"`
}

// NewSyncMessage encodes payload into a message of the given type
func NewSyncMessage(t SyncMessageType, sender UserID, timestamp int64, payload interface{}) (*SyncMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &SyncMessage{
		Type:      t,
		SenderID:  sender,
		Timestamp: timestamp,
		Payload:   raw,
	}, nil
}

// ParseSyncMessage decodes a message received from a peer channel
func ParseSyncMessage(data []byte) (*SyncMessage, error) {
	msg := &SyncMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, err
	}

	switch msg.Type {
	case StateMessage, DeltaMessage, CursorMessage, SelectionMessage, PresenceMessage:
		return msg, nil
	default:
		return nil, ErrUnknownSyncMessage
	}
}

func (m *SyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DecodePayload unmarshals the payload into v
func (m *SyncMessage) DecodePayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrInvalidMessage = errors.New("invalid message")
)

type MessageType string

// Inbound message types
const (
	MsgAnnounceOnline       MessageType = "announce-online"
	MsgHeartbeat            MessageType = "heartbeat"
	MsgGoOffline            MessageType = "go-offline"
	MsgCallOffer            MessageType = "call-offer"
	MsgCallAnswer           MessageType = "call-answer"
	MsgCallReject           MessageType = "call-reject"
	MsgCallEnd              MessageType = "call-end"
	MsgIceCandidate         MessageType = "ice-candidate"
	MsgMediaUpgradeRequest  MessageType = "media-upgrade-request"
	MsgMediaUpgradeResponse MessageType = "media-upgrade-response"
)

// Outbound-only message types. ice-candidate and the media-upgrade pair
// keep their inbound names on the way out.
const (
	EvtUserStatus         MessageType = "user-status"
	EvtIncomingCall       MessageType = "incoming-call"
	EvtCallAnswered       MessageType = "call-answered"
	EvtCallRejected       MessageType = "call-rejected"
	EvtCallEndedRemote    MessageType = "call-ended-remote"
	EvtCallUnavailable    MessageType = "call-unavailable"
	EvtCallUpdated        MessageType = "call-updated"
	EvtAccountDeactivated MessageType = "account-deactivated"
	EvtError              MessageType = "error"
)

// Envelope is the wire frame in both directions
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound is a decoded and validated client message
type Inbound interface {
	Kind() MessageType
	validate() error
}

// PresenceMessage covers announce-online, heartbeat and go-offline. UserID
// is optional; when set it must match the authenticated connection.
type PresenceMessage struct {
	Type   MessageType `json:"-"`
	UserID string      `json:"userId,omitempty"`
}

func (m *PresenceMessage) Kind() MessageType { return m.Type }
func (m *PresenceMessage) validate() error   { return nil }

// UnmarshalJSON accepts either {"userId": "..."} or a bare user id string.
func (m *PresenceMessage) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		m.UserID = id
		return nil
	}

	var raw struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.UserID = raw.UserID
	return nil
}

type CallOffer struct {
	CalleeID string          `json:"calleeId"`
	CallID   uuid.UUID       `json:"callId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (m *CallOffer) Kind() MessageType { return MsgCallOffer }

func (m *CallOffer) validate() error {
	if m.CalleeID == "" {
		return fmt.Errorf("%w: calleeId is required", ErrInvalidMessage)
	}
	return requireCallID(m.CallID)
}

type CallAnswer struct {
	CallID   uuid.UUID       `json:"callId"`
	CallerID string          `json:"callerId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (m *CallAnswer) Kind() MessageType { return MsgCallAnswer }
func (m *CallAnswer) validate() error   { return requireCallID(m.CallID) }

type CallReject struct {
	CallID   uuid.UUID `json:"callId"`
	CallerID string    `json:"callerId,omitempty"`
}

func (m *CallReject) Kind() MessageType { return MsgCallReject }
func (m *CallReject) validate() error   { return requireCallID(m.CallID) }

type CallEnd struct {
	CallID uuid.UUID `json:"callId"`
	PeerID string    `json:"peerId,omitempty"`
}

func (m *CallEnd) Kind() MessageType { return MsgCallEnd }
func (m *CallEnd) validate() error   { return requireCallID(m.CallID) }

// CallSignal carries ice-candidate and media-upgrade messages. TargetID is
// routing metadata only; the directory decides the real destination.
type CallSignal struct {
	Type     MessageType     `json:"-"`
	CallID   uuid.UUID       `json:"callId"`
	TargetID string          `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (m *CallSignal) Kind() MessageType { return m.Type }
func (m *CallSignal) validate() error   { return requireCallID(m.CallID) }

// UnmarshalJSON accepts recipientId as an alias for targetId, which is what
// ice-candidate senders use.
func (m *CallSignal) UnmarshalJSON(data []byte) error {
	var raw struct {
		CallID      uuid.UUID       `json:"callId"`
		TargetID    string          `json:"targetId"`
		RecipientID string          `json:"recipientId"`
		Payload     json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.CallID = raw.CallID
	m.TargetID = raw.TargetID
	if m.TargetID == "" {
		m.TargetID = raw.RecipientID
	}
	m.Payload = raw.Payload
	return nil
}

func requireCallID(id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("%w: callId is required", ErrInvalidMessage)
	}
	return nil
}

// DecodeInbound parses a client frame into its typed message
func DecodeInbound(frame []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var msg Inbound
	switch env.Type {
	case MsgAnnounceOnline, MsgHeartbeat, MsgGoOffline:
		msg = &PresenceMessage{Type: env.Type}
	case MsgCallOffer:
		msg = &CallOffer{}
	case MsgCallAnswer:
		msg = &CallAnswer{}
	case MsgCallReject:
		msg = &CallReject{}
	case MsgCallEnd:
		msg = &CallEnd{}
	case MsgIceCandidate, MsgMediaUpgradeRequest, MsgMediaUpgradeResponse:
		msg = &CallSignal{Type: env.Type}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.Type)
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, msg); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMessage, env.Type, err)
		}
	}

	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// OutboundEvent is a server-to-client frame
type OutboundEvent struct {
	Type MessageType `json:"type"`
	Data any         `json:"data,omitempty"`
}

func NewEvent(t MessageType, data any) OutboundEvent {
	return OutboundEvent{Type: t, Data: data}
}

func (e OutboundEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Outbound payloads
type UserStatusEvent struct {
	UserID string         `json:"userId"`
	Status PresenceStatus `json:"status"`
}

type IncomingCallEvent struct {
	CallID   uuid.UUID       `json:"callId"`
	CallerID string          `json:"callerId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// CallSignalEvent is forwarded for answer, reject, end, ice and upgrade
type CallSignalEvent struct {
	CallID     uuid.UUID       `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type CallUnavailableEvent struct {
	CallID      uuid.UUID `json:"callId"`
	RecipientID string    `json:"recipientId"`
	Reason      string    `json:"reason"`
}

type CallUpdatedEvent struct {
	CallID uuid.UUID  `json:"callId"`
	Status CallStatus `json:"status"`
}

type AccountDeactivatedEvent struct {
	Message string `json:"message"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

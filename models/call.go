package models

import (
	"time"

	"github.com/google/uuid"
)

// Call is the persisted record of a single call attempt
type Call struct {
	ID           uuid.UUID  `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CallerID     string     `json:"caller_id" gorm:"not null;index"`
	RecipientID  string     `json:"recipient_id" gorm:"not null;index"`
	CallType     CallType   `json:"call_type" gorm:"not null"`
	Status       CallStatus `json:"status" gorm:"default:initiated;index"`
	StartTime    *time.Time `json:"start_time"`
	AcceptedTime *time.Time `json:"accepted_time"`
	EndTime      *time.Time `json:"end_time"`
	Duration     int        `json:"duration" gorm:"default:0"` // whole seconds
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Call) TableName() string {
	return "calls"
}

// HasParticipant reports whether userID is the caller or the recipient
func (c *Call) HasParticipant(userID string) bool {
	return c.CallerID == userID || c.RecipientID == userID
}

// Peer returns the other participant, or "" if userID is not on the call
func (c *Call) Peer(userID string) string {
	switch userID {
	case c.CallerID:
		return c.RecipientID
	case c.RecipientID:
		return c.CallerID
	}
	return ""
}

// CallLog is one participant's view of a finished call
type CallLog struct {
	ID        uuid.UUID     `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	UserID    string        `json:"user_id" gorm:"not null;index"`
	ContactID string        `json:"contact_id" gorm:"not null"`
	CallID    uuid.UUID     `json:"call_id" gorm:"type:uuid;not null;index"`
	CallType  CallType      `json:"call_type" gorm:"not null"`
	Direction CallDirection `json:"direction" gorm:"not null"`
	Status    CallLogStatus `json:"status" gorm:"not null"`
	Duration  int           `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

func (CallLog) TableName() string {
	return "call_logs"
}

// Enums
type CallStatus string

const (
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusAccepted   CallStatus = "accepted"
	CallStatusEnded      CallStatus = "ended"
	CallStatusRejected   CallStatus = "rejected"
	CallStatusMissed     CallStatus = "missed"
	CallStatusUnanswered CallStatus = "unanswered"
)

// NonTerminalStatuses are the statuses a call can still leave
var NonTerminalStatuses = []CallStatus{
	CallStatusInitiated,
	CallStatusRinging,
	CallStatusAccepted,
}

// IsTerminal reports whether no further transitions are permitted
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusEnded, CallStatusRejected, CallStatusMissed, CallStatusUnanswered:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusInitiated, CallStatusRinging, CallStatusAccepted:
		return true
	}
	return s.IsTerminal()
}

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// ParseCallType accepts "audio", "video" and the legacy "voice" alias
func ParseCallType(s string) (CallType, bool) {
	switch s {
	case "audio", "voice":
		return CallTypeAudio, true
	case "video":
		return CallTypeVideo, true
	}
	return "", false
}

type CallDirection string

const (
	CallDirectionIncoming CallDirection = "incoming"
	CallDirectionOutgoing CallDirection = "outgoing"
)

type CallLogStatus string

const (
	CallLogStatusAccepted CallLogStatus = "accepted"
	CallLogStatusRejected CallLogStatus = "rejected"
	CallLogStatusMissed   CallLogStatus = "missed"
)

// LogStatusFor maps a terminal call status onto the call log vocabulary
func LogStatusFor(s CallStatus) CallLogStatus {
	switch s {
	case CallStatusEnded:
		return CallLogStatusAccepted
	case CallStatusRejected:
		return CallLogStatusRejected
	default:
		return CallLogStatusMissed
	}
}

// Request/Response DTOs
type InitiateCallRequest struct {
	RecipientID string `json:"recipientId" binding:"required"`
	CallType    string `json:"callType" binding:"required"`
}

type EndCallRequest struct {
	Status CallStatus `json:"status"`
}

type ListResponse[T any] struct {
	Data   []T   `json:"data"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
)

var (
	// ErrRecipientUnavailable is reported to the sender of an offer whose
	// callee has no live session.
	ErrRecipientUnavailable = errors.New("recipient unavailable")
	ErrCallNotFound         = errors.New("call not found")
	ErrNotParticipant       = errors.New("user is not a participant of this call")
	ErrUserNotFound         = errors.New("user not found")
	// ErrPersistence wraps store failures. In-memory state is already
	// released by the time it is returned.
	ErrPersistence = errors.New("persistence failure")
)

// CallStore persists call records and call logs
type CallStore interface {
	CreateCall(ctx context.Context, call *models.Call) error
	GetCall(ctx context.Context, id uuid.UUID) (*models.Call, error)
	// TransitionCall writes call's status, timestamps and duration only if
	// the stored status is still one of from. It reports whether it wrote.
	TransitionCall(ctx context.Context, call *models.Call, from []models.CallStatus) (bool, error)
	ListCalls(ctx context.Context, userID, peerID string) ([]models.Call, error)
	DeleteCall(ctx context.Context, id uuid.UUID) error
	DeleteCalls(ctx context.Context, userID, peerID string) (int64, error)
	CreateCallLogs(ctx context.Context, logs []models.CallLog) error
	ListCallLogs(ctx context.Context, userID string, callType models.CallType, limit, offset int) ([]models.CallLog, int64, error)
}

// UserStore is the external user collaborator
type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	SetOnline(ctx context.Context, id string, online bool, lastSeen time.Time) error
	ListStaleOnline(ctx context.Context, before time.Time) ([]models.User, error)
}

// Broadcaster delivers events to live transport sessions
type Broadcaster interface {
	// SendToSession reports whether the session existed
	SendToSession(sessionID string, event models.OutboundEvent) bool
	// SendToUser delivers to every session of userID except the listed
	// ones and returns how many sessions received it
	SendToUser(userID string, event models.OutboundEvent, except ...string) int
	Broadcast(event models.OutboundEvent)
	CloseSession(sessionID string)
	CloseUser(userID string)
}

// PresenceMirror publishes presence to collaborators outside this process
type PresenceMirror interface {
	Update(ctx context.Context, userID string, status models.PresenceStatus) error
	Remove(ctx context.Context, userID string) error
	OnlineUserIDs(ctx context.Context) ([]string, error)
	PublishStatus(ctx context.Context, userID string, status models.PresenceStatus) error
}

type nopMirror struct{}

func (nopMirror) Update(context.Context, string, models.PresenceStatus) error        { return nil }
func (nopMirror) Remove(context.Context, string) error                               { return nil }
func (nopMirror) OnlineUserIDs(context.Context) ([]string, error)                    { return nil, nil }
func (nopMirror) PublishStatus(context.Context, string, models.PresenceStatus) error { return nil }

// NopMirror is used when Redis is not configured
var NopMirror PresenceMirror = nopMirror{}

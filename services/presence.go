package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
)

// ErrAccountDeactivated is returned when an inactive or unknown user
// announces presence. The session has already been told and closed.
var ErrAccountDeactivated = errors.New("account deactivated")

const deactivatedMessage = "Your account has been deactivated. Please contact support."

// PresenceService applies the side effects of presence changes on top of
// the Registry: user store writes, status broadcasts and the Redis mirror.
// Every path that takes a user offline goes through finishOffline, and only
// the path that actually removed the registry entry gets there.
type PresenceService struct {
	registry *Registry
	users    UserStore
	hub      Broadcaster
	mirror   PresenceMirror
	clock    clock.Clock
	logger   *utils.Logger

	lossMu sync.RWMutex
	onLoss func(ctx context.Context, userID string)
}

func NewPresenceService(registry *Registry, users UserStore, hub Broadcaster, mirror PresenceMirror, clk clock.Clock, logger *utils.Logger) *PresenceService {
	if mirror == nil {
		mirror = NopMirror
	}
	ps := &PresenceService{
		registry: registry,
		users:    users,
		hub:      hub,
		mirror:   mirror,
		clock:    clk,
		logger:   logger,
	}
	registry.OnExpire(ps.handleExpiry)
	return ps
}

// OnParticipantLost registers the hook run after a user goes offline, used
// by the reconciler to terminate calls the user was part of.
func (ps *PresenceService) OnParticipantLost(fn func(ctx context.Context, userID string)) {
	ps.lossMu.Lock()
	ps.onLoss = fn
	ps.lossMu.Unlock()
}

// AnnounceOnline registers sessionID as the user's live session
func (ps *PresenceService) AnnounceOnline(ctx context.Context, userID, sessionID string) error {
	user, err := ps.users.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return fmt.Errorf("%w: load user %s: %w", ErrPersistence, userID, err)
	}
	if user == nil || !user.IsActive {
		ps.logger.Warn("Deactivated user attempted to connect", "user_id", userID, "session_id", sessionID)
		ps.hub.SendToSession(sessionID, models.NewEvent(models.EvtAccountDeactivated, models.AccountDeactivatedEvent{
			Message: deactivatedMessage,
		}))
		ps.hub.CloseSession(sessionID)
		return ErrAccountDeactivated
	}

	previous, replaced := ps.registry.Announce(userID, sessionID)
	if replaced && previous.SessionID != sessionID {
		ps.logger.Info("Superseded existing session", "user_id", userID, "old_session_id", previous.SessionID, "session_id", sessionID)
	}

	entry, _ := ps.registry.Get(userID)
	if err := ps.users.SetOnline(ctx, userID, true, ps.clock.Now()); err != nil {
		ps.logger.Error("Failed to persist online status", "user_id", userID, "error", err)
	}
	if err := ps.mirror.Update(ctx, userID, entry.Status); err != nil {
		ps.logger.Error("Failed to mirror presence", "user_id", userID, "error", err)
	}

	ps.logger.Info("User is online", "user_id", userID, "session_id", sessionID, "active_users", ps.registry.Len())
	ps.broadcastStatus(ctx, userID, entry.Status)
	return nil
}

// Heartbeat refreshes the user's deadline; false means the user was not
// registered, which is not an error.
func (ps *PresenceService) Heartbeat(ctx context.Context, userID string) bool {
	if !ps.registry.Heartbeat(userID) {
		ps.logger.Debug("Heartbeat for unregistered user", "user_id", userID)
		return false
	}
	if entry, ok := ps.registry.Get(userID); ok {
		if err := ps.mirror.Update(ctx, userID, entry.Status); err != nil {
			ps.logger.Error("Failed to refresh mirrored presence", "user_id", userID, "error", err)
		}
	}
	return true
}

// GoOffline handles an explicit go-offline from the client
func (ps *PresenceService) GoOffline(ctx context.Context, userID string) bool {
	entry, ok := ps.registry.Remove(userID)
	if !ok {
		return false
	}
	ps.finishOffline(ctx, entry, "go-offline")
	return true
}

// SessionClosed handles a transport disconnect. Only the current session
// takes the user offline.
func (ps *PresenceService) SessionClosed(ctx context.Context, userID, sessionID string) bool {
	entry, ok := ps.registry.RemoveSession(userID, sessionID)
	if !ok {
		return false
	}
	ps.finishOffline(ctx, entry, "disconnect")
	return true
}

// ForceOffline takes a user offline if their last heartbeat predates cutoff
func (ps *PresenceService) ForceOffline(ctx context.Context, userID string, cutoff time.Time) bool {
	entry, ok := ps.registry.RemoveIfStale(userID, cutoff)
	if !ok {
		return false
	}
	ps.finishOffline(ctx, entry, "sweep")
	return true
}

// MarkOffline corrects a user the store believes is online but who has no
// registry entry, typically after a restart.
func (ps *PresenceService) MarkOffline(ctx context.Context, userID string) error {
	if ps.registry.IsAvailable(userID) {
		return nil
	}
	if err := ps.users.SetOnline(ctx, userID, false, ps.clock.Now()); err != nil {
		return fmt.Errorf("%w: mark %s offline: %w", ErrPersistence, userID, err)
	}
	if err := ps.mirror.Remove(ctx, userID); err != nil {
		ps.logger.Error("Failed to remove mirrored presence", "user_id", userID, "error", err)
	}
	ps.broadcastStatus(ctx, userID, models.PresenceOffline)
	ps.participantLost(ctx, userID)
	return nil
}

// Deactivate tells every session of the user, closes them and takes the
// user offline.
func (ps *PresenceService) Deactivate(ctx context.Context, userID string) {
	ps.hub.SendToUser(userID, models.NewEvent(models.EvtAccountDeactivated, models.AccountDeactivatedEvent{
		Message: deactivatedMessage,
	}))
	ps.hub.CloseUser(userID)
	ps.GoOffline(ctx, userID)
}

// SetInCall marks the user busy with callID and broadcasts the change
func (ps *PresenceService) SetInCall(ctx context.Context, userID, callID string) {
	if !ps.registry.SetInCall(userID, callID) {
		return
	}
	if err := ps.mirror.Update(ctx, userID, models.PresenceInCall); err != nil {
		ps.logger.Error("Failed to mirror presence", "user_id", userID, "error", err)
	}
	ps.broadcastStatus(ctx, userID, models.PresenceInCall)
}

// RestoreOnline returns the user to online if they are in-call for callID
func (ps *PresenceService) RestoreOnline(ctx context.Context, userID, callID string) bool {
	if !ps.registry.ClearCall(userID, callID) {
		return false
	}
	if err := ps.mirror.Update(ctx, userID, models.PresenceOnline); err != nil {
		ps.logger.Error("Failed to mirror presence", "user_id", userID, "error", err)
	}
	ps.broadcastStatus(ctx, userID, models.PresenceOnline)
	return true
}

func (ps *PresenceService) Lookup(userID string) (string, bool) {
	return ps.registry.Lookup(userID)
}

func (ps *PresenceService) IsAvailable(userID string) bool {
	return ps.registry.IsAvailable(userID)
}

func (ps *PresenceService) Get(userID string) (models.PresenceEntry, bool) {
	return ps.registry.Get(userID)
}

func (ps *PresenceService) Online() []models.PresenceEntry {
	return ps.registry.Snapshot()
}

func (ps *PresenceService) StaleUsers(cutoff time.Time) []string {
	return ps.registry.StaleUsers(cutoff)
}

func (ps *PresenceService) handleExpiry(entry models.PresenceEntry) {
	ps.logger.Info("Heartbeat timeout, marking offline", "user_id", entry.UserID, "session_id", entry.SessionID)
	ps.finishOffline(context.Background(), entry, "heartbeat-timeout")
}

func (ps *PresenceService) finishOffline(ctx context.Context, entry models.PresenceEntry, reason string) {
	if err := ps.users.SetOnline(ctx, entry.UserID, false, ps.clock.Now()); err != nil {
		ps.logger.Error("Failed to persist offline status", "user_id", entry.UserID, "error", err)
	}
	if err := ps.mirror.Remove(ctx, entry.UserID); err != nil {
		ps.logger.Error("Failed to remove mirrored presence", "user_id", entry.UserID, "error", err)
	}

	ps.logger.Info("User is offline", "user_id", entry.UserID, "reason", reason)
	ps.broadcastStatus(ctx, entry.UserID, models.PresenceOffline)
	ps.participantLost(ctx, entry.UserID)
}

func (ps *PresenceService) participantLost(ctx context.Context, userID string) {
	ps.lossMu.RLock()
	onLoss := ps.onLoss
	ps.lossMu.RUnlock()

	if onLoss != nil {
		onLoss(ctx, userID)
	}
}

func (ps *PresenceService) broadcastStatus(ctx context.Context, userID string, status models.PresenceStatus) {
	ps.hub.Broadcast(models.NewEvent(models.EvtUserStatus, models.UserStatusEvent{
		UserID: userID,
		Status: status,
	}))
	if err := ps.mirror.PublishStatus(ctx, userID, status); err != nil {
		ps.logger.Error("Failed to publish status event", "user_id", userID, "error", err)
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
)

// maxTransitionAttempts bounds the read/compare/write loop when another
// writer moves the record between our read and our write.
const maxTransitionAttempts = 3

// Reconciler applies call lifecycle transitions to the persisted record,
// then releases in-memory state and notifies both participants.
type Reconciler struct {
	calls       CallStore
	directory   *Directory
	presence    *PresenceService
	hub         Broadcaster
	clock       clock.Clock
	logger      *utils.Logger
	ringTimeout time.Duration

	ringMu     sync.Mutex
	ringTimers map[uuid.UUID]*clock.Timer
}

func NewReconciler(calls CallStore, directory *Directory, presence *PresenceService, hub Broadcaster, clk clock.Clock, ringTimeout time.Duration, logger *utils.Logger) *Reconciler {
	r := &Reconciler{
		calls:       calls,
		directory:   directory,
		presence:    presence,
		hub:         hub,
		clock:       clk,
		logger:      logger,
		ringTimeout: ringTimeout,
		ringTimers:  make(map[uuid.UUID]*clock.Timer),
	}
	presence.OnParticipantLost(r.ParticipantLost)
	return r
}

// applyFunc mutates a copy of the stored call. Returning false leaves the
// record untouched.
type applyFunc func(call *models.Call, now time.Time) bool

// MarkRinging moves an initiated call to ringing once the offer reached
// the callee.
func (r *Reconciler) MarkRinging(ctx context.Context, callID uuid.UUID) (*models.Call, error) {
	return r.transition(ctx, callID, "", false, func(call *models.Call, now time.Time) bool {
		if call.Status != models.CallStatusInitiated {
			return false
		}
		call.Status = models.CallStatusRinging
		if call.StartTime == nil {
			call.StartTime = &now
		}
		return true
	})
}

// Accept records the callee answering. actorID must be the recipient, or
// empty for system-initiated transitions.
func (r *Reconciler) Accept(ctx context.Context, callID uuid.UUID, actorID string) (*models.Call, error) {
	return r.transition(ctx, callID, actorID, false, func(call *models.Call, now time.Time) bool {
		if actorID != "" && actorID != call.RecipientID {
			return false
		}
		if call.Status != models.CallStatusInitiated && call.Status != models.CallStatusRinging {
			return false
		}
		call.Status = models.CallStatusAccepted
		call.AcceptedTime = &now
		if call.StartTime == nil {
			call.StartTime = &now
		}
		return true
	})
}

// Reject records the callee declining. On a call that was already
// answered it ends the call instead.
func (r *Reconciler) Reject(ctx context.Context, callID uuid.UUID, actorID string) (*models.Call, error) {
	return r.terminate(ctx, callID, actorID, models.CallStatusRejected)
}

// End records a hangup by either party. requested may be empty, or one of
// the terminal statuses; the final status follows classifyEnd.
func (r *Reconciler) End(ctx context.Context, callID uuid.UUID, actorID string, requested models.CallStatus) (*models.Call, error) {
	return r.terminate(ctx, callID, actorID, requested)
}

// ExpireRinging moves a call nobody answered to unanswered. Calls that
// were answered or finished in the meantime are left alone.
func (r *Reconciler) ExpireRinging(ctx context.Context, callID uuid.UUID) (*models.Call, error) {
	return r.transition(ctx, callID, "", true, func(call *models.Call, now time.Time) bool {
		if call.Status != models.CallStatusInitiated && call.Status != models.CallStatusRinging {
			return false
		}
		applyTerminal(call, models.CallStatusUnanswered, now)
		return true
	})
}

// ParticipantLost ends every call userID is linked to. It is the hook the
// presence layer runs when a user goes offline.
func (r *Reconciler) ParticipantLost(ctx context.Context, userID string) {
	for _, callID := range r.directory.CallsForUser(userID) {
		call, err := r.End(ctx, callID, "", "")
		if err != nil {
			r.logger.Error("Failed to end call after participant loss", "call_id", callID, "user_id", userID, "error", err)
			continue
		}
		r.logger.Info("Call ended by participant loss", "call_id", callID, "user_id", userID, "status", call.Status)
	}
}

func (r *Reconciler) terminate(ctx context.Context, callID uuid.UUID, actorID string, requested models.CallStatus) (*models.Call, error) {
	return r.transition(ctx, callID, actorID, true, func(call *models.Call, now time.Time) bool {
		if requested == models.CallStatusRejected && actorID != "" && actorID != call.RecipientID && call.AcceptedTime == nil {
			// only the callee can decline; a caller cancelling is a hangup
			requested = ""
		}
		applyTerminal(call, classifyEnd(call, requested), now)
		return true
	})
}

// classifyEnd decides the terminal status of a call ending now. A call
// that connected always ends as ended. One that never connected is missed
// unless it was explicitly rejected or timed out unanswered.
func classifyEnd(call *models.Call, requested models.CallStatus) models.CallStatus {
	if call.AcceptedTime != nil {
		return models.CallStatusEnded
	}
	switch requested {
	case models.CallStatusRejected, models.CallStatusUnanswered:
		return requested
	}
	return models.CallStatusMissed
}

// applyTerminal sets the terminal status and recomputes duration from the
// accepted-to-end span, floored to whole seconds.
func applyTerminal(call *models.Call, status models.CallStatus, now time.Time) {
	call.Status = status
	call.EndTime = &now
	call.Duration = 0
	if status == models.CallStatusEnded && call.AcceptedTime != nil {
		if d := now.Sub(*call.AcceptedTime); d > 0 {
			call.Duration = int(d / time.Second)
		}
	}
}

func (r *Reconciler) transition(ctx context.Context, callID uuid.UUID, actorID string, terminal bool, apply applyFunc) (*models.Call, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		stored, err := r.calls.GetCall(ctx, callID)
		if err != nil {
			if terminal {
				r.release(ctx, callID, nil)
			}
			if errors.Is(err, ErrCallNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: load call %s: %w", ErrPersistence, callID, err)
		}

		if actorID != "" && !stored.HasParticipant(actorID) {
			return stored, ErrNotParticipant
		}

		if stored.Status.IsTerminal() {
			// duplicate terminal event; the in-memory side was released by
			// whoever got here first
			if terminal {
				r.release(ctx, callID, stored)
			}
			return stored, nil
		}

		next := *stored
		now := r.clock.Now()
		if !apply(&next, now) {
			return stored, nil
		}

		written, err := r.calls.TransitionCall(ctx, &next, []models.CallStatus{stored.Status})
		if err != nil {
			r.logger.Error("Failed to persist call transition", "call_id", callID, "status", next.Status, "error", err)
			if next.Status.IsTerminal() {
				r.release(ctx, callID, &next)
			}
			r.notify(&next)
			return &next, fmt.Errorf("%w: transition call %s: %w", ErrPersistence, callID, err)
		}
		if !written {
			r.logger.Debug("Call moved under us, retrying", "call_id", callID, "attempt", attempt+1)
			continue
		}

		r.logger.Info("Call transitioned", "call_id", callID, "from", stored.Status, "to", next.Status, "duration", next.Duration)
		r.afterTransition(ctx, &next)
		return &next, nil
	}

	current, err := r.calls.GetCall(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("%w: reload call %s: %w", ErrPersistence, callID, err)
	}
	return current, nil
}

func (r *Reconciler) afterTransition(ctx context.Context, call *models.Call) {
	switch {
	case call.Status == models.CallStatusRinging:
		r.scheduleRingTimeout(call.ID)
	case call.Status == models.CallStatusAccepted:
		r.cancelRingTimeout(call.ID)
	case call.Status.IsTerminal():
		r.release(ctx, call.ID, call)
		r.writeCallLogs(ctx, call)
	}
	r.notify(call)
}

// release drops the directory link and returns participants to online. It
// runs on every terminal path, including failed writes.
func (r *Reconciler) release(ctx context.Context, callID uuid.UUID, call *models.Call) {
	r.cancelRingTimeout(callID)

	participants := map[string]struct{}{}
	if link, ok := r.directory.Resolve(callID); ok {
		participants[link.CallerID] = struct{}{}
		participants[link.CalleeID] = struct{}{}
	}
	if call != nil {
		participants[call.CallerID] = struct{}{}
		participants[call.RecipientID] = struct{}{}
	}

	r.directory.Close(callID)
	for userID := range participants {
		r.presence.RestoreOnline(ctx, userID, callID.String())
	}
}

func (r *Reconciler) notify(call *models.Call) {
	event := models.NewEvent(models.EvtCallUpdated, models.CallUpdatedEvent{
		CallID: call.ID,
		Status: call.Status,
	})
	r.hub.SendToUser(call.CallerID, event)
	r.hub.SendToUser(call.RecipientID, event)
}

func (r *Reconciler) writeCallLogs(ctx context.Context, call *models.Call) {
	status := models.LogStatusFor(call.Status)
	now := r.clock.Now()
	logs := []models.CallLog{
		{
			ID:        uuid.New(),
			UserID:    call.CallerID,
			ContactID: call.RecipientID,
			CallID:    call.ID,
			CallType:  call.CallType,
			Direction: models.CallDirectionOutgoing,
			Status:    status,
			Duration:  call.Duration,
			Timestamp: now,
		},
		{
			ID:        uuid.New(),
			UserID:    call.RecipientID,
			ContactID: call.CallerID,
			CallID:    call.ID,
			CallType:  call.CallType,
			Direction: models.CallDirectionIncoming,
			Status:    status,
			Duration:  call.Duration,
			Timestamp: now,
		},
	}
	if err := r.calls.CreateCallLogs(ctx, logs); err != nil {
		r.logger.Error("Failed to write call logs", "call_id", call.ID, "error", err)
	}
}

func (r *Reconciler) scheduleRingTimeout(callID uuid.UUID) {
	if r.ringTimeout <= 0 {
		return
	}

	r.ringMu.Lock()
	defer r.ringMu.Unlock()

	if existing, ok := r.ringTimers[callID]; ok {
		existing.Stop()
	}
	r.ringTimers[callID] = r.clock.AfterFunc(r.ringTimeout, func() {
		r.ringMu.Lock()
		delete(r.ringTimers, callID)
		r.ringMu.Unlock()

		if _, err := r.ExpireRinging(context.Background(), callID); err != nil {
			r.logger.Error("Failed to expire ringing call", "call_id", callID, "error", err)
		}
	})
}

func (r *Reconciler) cancelRingTimeout(callID uuid.UUID) {
	r.ringMu.Lock()
	defer r.ringMu.Unlock()

	if timer, ok := r.ringTimers[callID]; ok {
		timer.Stop()
		delete(r.ringTimers, callID)
	}
}

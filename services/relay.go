package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
)

// Session identifies the transport connection a message arrived on
type Session struct {
	ID     string
	UserID string
}

// Relay routes signaling messages between the two sessions of a call.
// Payloads are never inspected; only callId and user ids are used for
// routing. Undeliverable mid-call messages are dropped, not queued.
type Relay struct {
	presence   *PresenceService
	directory  *Directory
	reconciler *Reconciler
	hub        Broadcaster
	logger     *utils.Logger
}

func NewRelay(presence *PresenceService, directory *Directory, reconciler *Reconciler, hub Broadcaster, logger *utils.Logger) *Relay {
	return &Relay{
		presence:   presence,
		directory:  directory,
		reconciler: reconciler,
		hub:        hub,
		logger:     logger,
	}
}

// Handle dispatches one decoded message from sess
func (r *Relay) Handle(ctx context.Context, sess Session, msg models.Inbound) error {
	switch m := msg.(type) {
	case *models.PresenceMessage:
		return r.handlePresence(ctx, sess, m)
	case *models.CallOffer:
		return r.offer(ctx, sess, m)
	case *models.CallAnswer:
		return r.answer(ctx, sess, m)
	case *models.CallReject:
		return r.reject(ctx, sess, m)
	case *models.CallEnd:
		return r.end(ctx, sess, m)
	case *models.CallSignal:
		r.signal(sess, m)
		return nil
	default:
		return fmt.Errorf("%w: %s", models.ErrUnknownMessage, msg.Kind())
	}
}

// SessionClosed is called by the transport when a connection goes away
func (r *Relay) SessionClosed(ctx context.Context, sess Session) {
	r.presence.SessionClosed(ctx, sess.UserID, sess.ID)
}

func (r *Relay) handlePresence(ctx context.Context, sess Session, m *models.PresenceMessage) error {
	if m.UserID != "" && m.UserID != sess.UserID {
		return fmt.Errorf("%w: userId does not match the connection", models.ErrInvalidMessage)
	}

	switch m.Type {
	case models.MsgAnnounceOnline:
		return r.presence.AnnounceOnline(ctx, sess.UserID, sess.ID)
	case models.MsgHeartbeat:
		r.presence.Heartbeat(ctx, sess.UserID)
	case models.MsgGoOffline:
		r.presence.GoOffline(ctx, sess.UserID)
	}
	return nil
}

func (r *Relay) offer(ctx context.Context, sess Session, m *models.CallOffer) error {
	if m.CalleeID == sess.UserID {
		return fmt.Errorf("%w: cannot call yourself", models.ErrInvalidMessage)
	}

	calleeSession, ok := r.presence.Lookup(m.CalleeID)
	if !ok {
		r.logger.Info("Call offer to unavailable recipient", "call_id", m.CallID, "caller_id", sess.UserID, "recipient_id", m.CalleeID)
		r.hub.SendToSession(sess.ID, models.NewEvent(models.EvtCallUnavailable, models.CallUnavailableEvent{
			CallID:      m.CallID,
			RecipientID: m.CalleeID,
			Reason:      ErrRecipientUnavailable.Error(),
		}))
		return ErrRecipientUnavailable
	}

	r.directory.Open(CallLink{
		CallID:          m.CallID,
		CallerID:        sess.UserID,
		CallerSessionID: sess.ID,
		CalleeID:        m.CalleeID,
		CalleeSessionID: calleeSession,
	})

	r.deliver(m.CalleeID, calleeSession, models.NewEvent(models.EvtIncomingCall, models.IncomingCallEvent{
		CallID:   m.CallID,
		CallerID: sess.UserID,
		Payload:  m.Payload,
	}))
	r.logger.Info("Relayed call offer", "call_id", m.CallID, "caller_id", sess.UserID, "recipient_id", m.CalleeID, "session_id", calleeSession)

	r.presence.SetInCall(ctx, sess.UserID, m.CallID.String())
	r.presence.SetInCall(ctx, m.CalleeID, m.CallID.String())

	if _, err := r.reconciler.MarkRinging(ctx, m.CallID); err != nil {
		r.logger.Warn("Failed to mark call ringing", "call_id", m.CallID, "error", err)
	}
	return nil
}

func (r *Relay) answer(ctx context.Context, sess Session, m *models.CallAnswer) error {
	r.forward(sess, m.CallID, m.CallerID, models.EvtCallAnswered, m.Payload)
	_, err := r.reconciler.Accept(ctx, m.CallID, sess.UserID)
	return r.midCallResult(m.CallID, err)
}

func (r *Relay) reject(ctx context.Context, sess Session, m *models.CallReject) error {
	r.forward(sess, m.CallID, m.CallerID, models.EvtCallRejected, nil)
	_, err := r.reconciler.Reject(ctx, m.CallID, sess.UserID)
	return r.midCallResult(m.CallID, err)
}

func (r *Relay) end(ctx context.Context, sess Session, m *models.CallEnd) error {
	r.forward(sess, m.CallID, m.PeerID, models.EvtCallEndedRemote, nil)
	_, err := r.reconciler.End(ctx, m.CallID, sess.UserID, "")
	return r.midCallResult(m.CallID, err)
}

func (r *Relay) signal(sess Session, m *models.CallSignal) {
	r.forward(sess, m.CallID, m.TargetID, m.Type, m.Payload)
}

// forward delivers a mid-call message to the peer of sess on callID.
// targetID, when set, must name that peer.
func (r *Relay) forward(sess Session, callID uuid.UUID, targetID string, eventType models.MessageType, payload json.RawMessage) bool {
	link, ok := r.directory.Resolve(callID)
	if !ok {
		r.logger.Debug("Dropping message for unknown call", "call_id", callID, "type", eventType, "user_id", sess.UserID)
		return false
	}

	peerID, _, ok := link.Peer(sess.UserID)
	if !ok || (targetID != "" && targetID != peerID) {
		r.logger.Warn("Dropping message from non-participant", "call_id", callID, "type", eventType, "user_id", sess.UserID)
		return false
	}

	// the peer may have reconnected since the offer; always use the
	// session the registry considers current
	peerSession, ok := r.presence.Lookup(peerID)
	if !ok {
		r.logger.Debug("Dropping message for vanished peer", "call_id", callID, "type", eventType, "peer_id", peerID)
		return false
	}

	r.deliver(peerID, peerSession, models.NewEvent(eventType, models.CallSignalEvent{
		CallID:     callID,
		FromUserID: sess.UserID,
		Payload:    payload,
	}))
	return true
}

// deliver sends to the user's current session and mirrors to the rest of
// their sessions.
func (r *Relay) deliver(userID, sessionID string, event models.OutboundEvent) {
	r.hub.SendToSession(sessionID, event)
	r.hub.SendToUser(userID, event, sessionID)
}

// midCallResult drops the errors mid-call messages are allowed to hit
func (r *Relay) midCallResult(callID uuid.UUID, err error) error {
	if err == nil || errors.Is(err, ErrCallNotFound) || errors.Is(err, ErrNotParticipant) {
		if err != nil {
			r.logger.Debug("Ignoring mid-call message", "call_id", callID, "error", err)
		}
		return nil
	}
	return err
}

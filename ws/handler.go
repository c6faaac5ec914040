package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
	"github.com/MANAHILFATIMA72/backend-LockTalk/services"
	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
)

const messageTimeout = 10 * time.Second

// Dispatcher is what the transport feeds decoded messages into
type Dispatcher interface {
	Handle(ctx context.Context, sess services.Session, msg models.Inbound) error
	SessionClosed(ctx context.Context, sess services.Session)
}

type Handler struct {
	hub        *Hub
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	logger     *utils.Logger
}

func NewHandler(hub *Hub, dispatcher Dispatcher, allowedOrigin string, logger *utils.Logger) *Handler {
	return &Handler{
		hub:        hub,
		dispatcher: dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
			},
		},
	}
}

// ServeWS handles GET /ws. The auth middleware has already put the user id
// on the context.
func (h *Handler) ServeWS(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	client := newClient(conn, uuid.New().String(), userID)
	sess := services.Session{ID: client.sessionID, UserID: userID}
	logger := h.logger.With("user_id", userID, "session_id", sess.ID)
	logger.Info("User connected")

	h.hub.Register(client)
	go client.writePump()

	client.readPump(func(frame []byte) bool {
		return h.dispatch(sess, frame, logger)
	})

	h.hub.Unregister(client)
	h.dispatcher.SessionClosed(context.Background(), sess)
	logger.Info("User disconnected")
}

func (h *Handler) dispatch(sess services.Session, frame []byte, logger *utils.Logger) bool {
	msg, err := models.DecodeInbound(frame)
	if err != nil {
		logger.Debug("Rejected frame", "error", err)
		h.hub.SendToSession(sess.ID, errorEvent(err.Error()))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	err = h.dispatcher.Handle(ctx, sess, msg)
	switch {
	case err == nil, errors.Is(err, services.ErrRecipientUnavailable):
		// the sender was already told about an unavailable recipient
		return true
	case errors.Is(err, services.ErrAccountDeactivated):
		return false
	case errors.Is(err, models.ErrInvalidMessage), errors.Is(err, models.ErrUnknownMessage):
		h.hub.SendToSession(sess.ID, errorEvent(err.Error()))
		return true
	default:
		logger.Error("Failed to handle message", "type", msg.Kind(), "error", err)
		h.hub.SendToSession(sess.ID, errorEvent("internal error"))
		return true
	}
}

func errorEvent(message string) models.OutboundEvent {
	return models.NewEvent(models.EvtError, models.ErrorEvent{Message: message})
}

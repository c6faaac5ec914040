package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
	"github.com/MANAHILFATIMA72/backend-LockTalk/services"
	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
)

// Availability answers whether a user can currently be called
type Availability interface {
	IsAvailable(userID string) bool
}

// CallEnder terminates calls on behalf of a participant
type CallEnder interface {
	End(ctx context.Context, callID uuid.UUID, actorID string, requested models.CallStatus) (*models.Call, error)
}

type CallHandler struct {
	calls    services.CallStore
	presence Availability
	ender    CallEnder
	clock    clock.Clock
	logger   *utils.Logger
}

func NewCallHandler(calls services.CallStore, presence Availability, ender CallEnder, clk clock.Clock, logger *utils.Logger) *CallHandler {
	return &CallHandler{
		calls:    calls,
		presence: presence,
		ender:    ender,
		clock:    clk,
		logger:   logger,
	}
}

// InitiateCall handles POST /api/v1/calls
func (h *CallHandler) InitiateCall(c *gin.Context) {
	var req models.InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	userID := c.GetString("userID")
	if req.RecipientID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot call yourself"})
		return
	}

	callType, ok := models.ParseCallType(req.CallType)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid call type"})
		return
	}

	if !h.presence.IsAvailable(req.RecipientID) {
		c.JSON(http.StatusConflict, gin.H{"error": "Recipient is not available"})
		return
	}

	now := h.clock.Now()
	call := &models.Call{
		ID:          uuid.New(),
		CallerID:    userID,
		RecipientID: req.RecipientID,
		CallType:    callType,
		Status:      models.CallStatusInitiated,
		StartTime:   &now,
	}
	if err := h.calls.CreateCall(c.Request.Context(), call); err != nil {
		h.logger.Error("Failed to create call", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create call"})
		return
	}

	h.logger.Info("Call initiated", "call_id", call.ID, "caller_id", userID, "recipient_id", call.RecipientID)
	c.JSON(http.StatusCreated, call)
}

// ListCalls handles GET /api/v1/calls
func (h *CallHandler) ListCalls(c *gin.Context) {
	h.listCalls(c, "")
}

// ListPeerCalls handles GET /api/v1/calls/peer/:peerId
func (h *CallHandler) ListPeerCalls(c *gin.Context) {
	h.listCalls(c, c.Param("peerId"))
}

func (h *CallHandler) listCalls(c *gin.Context, peerID string) {
	calls, err := h.calls.ListCalls(c.Request.Context(), c.GetString("userID"), peerID)
	if err != nil {
		h.logger.Error("Failed to fetch calls", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch calls"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  calls,
		"total": len(calls),
	})
}

// GetCall handles GET /api/v1/calls/:id
func (h *CallHandler) GetCall(c *gin.Context) {
	call, ok := h.loadParticipantCall(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, call)
}

// EndCall handles PUT /api/v1/calls/:id/end
func (h *CallHandler) EndCall(c *gin.Context) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid call ID"})
		return
	}

	var req models.EndCallRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}
	if req.Status != "" && !req.Status.IsTerminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Status must be a terminal status"})
		return
	}

	call, err := h.ender.End(c.Request.Context(), callID, c.GetString("userID"), req.Status)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, call)
	case errors.Is(err, services.ErrCallNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Call not found"})
	case errors.Is(err, services.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this call"})
	case errors.Is(err, services.ErrPersistence) && call != nil:
		// the call is released in memory, only the write failed
		h.logger.Error("Call ended without being persisted", "call_id", callID, "error", err)
		c.JSON(http.StatusOK, call)
	default:
		h.logger.Error("Failed to end call", "call_id", callID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to end call"})
	}
}

// DeleteCall handles DELETE /api/v1/calls/:id
func (h *CallHandler) DeleteCall(c *gin.Context) {
	call, ok := h.loadParticipantCall(c)
	if !ok {
		return
	}

	if err := h.calls.DeleteCall(c.Request.Context(), call.ID); err != nil {
		if errors.Is(err, services.ErrCallNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Call not found"})
			return
		}
		h.logger.Error("Failed to delete call", "call_id", call.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete call"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Call deleted successfully"})
}

// DeleteAllCalls handles DELETE /api/v1/calls
func (h *CallHandler) DeleteAllCalls(c *gin.Context) {
	h.deleteCalls(c, "")
}

// DeletePeerCalls handles DELETE /api/v1/calls/peer/:peerId
func (h *CallHandler) DeletePeerCalls(c *gin.Context) {
	h.deleteCalls(c, c.Param("peerId"))
}

func (h *CallHandler) deleteCalls(c *gin.Context, peerID string) {
	deleted, err := h.calls.DeleteCalls(c.Request.Context(), c.GetString("userID"), peerID)
	if err != nil {
		h.logger.Error("Failed to delete calls", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete calls"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Calls deleted successfully",
		"deleted": deleted,
	})
}

// ListCallLogs handles GET /api/v1/call-logs
func (h *CallHandler) ListCallLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	if limit < 1 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var callType models.CallType
	if raw := c.Query("callType"); raw != "" {
		parsed, ok := models.ParseCallType(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid call type"})
			return
		}
		callType = parsed
	}

	logs, total, err := h.calls.ListCallLogs(c.Request.Context(), c.GetString("userID"), callType, limit, offset)
	if err != nil {
		h.logger.Error("Failed to fetch call logs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch call logs"})
		return
	}

	c.JSON(http.StatusOK, models.ListResponse[models.CallLog]{
		Data:   logs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// loadParticipantCall writes the error response itself when it returns false
func (h *CallHandler) loadParticipantCall(c *gin.Context) (*models.Call, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid call ID"})
		return nil, false
	}

	call, err := h.calls.GetCall(c.Request.Context(), callID)
	if err != nil {
		if errors.Is(err, services.ErrCallNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Call not found"})
			return nil, false
		}
		h.logger.Error("Failed to fetch call", "call_id", callID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch call"})
		return nil, false
	}

	if !call.HasParticipant(c.GetString("userID")) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not a participant of this call"})
		return nil, false
	}
	return call, true
}

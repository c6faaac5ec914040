package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MANAHILFATIMA72/backend-LockTalk/models"
	"github.com/MANAHILFATIMA72/backend-LockTalk/services"
	"github.com/MANAHILFATIMA72/backend-LockTalk/utils"
)

// Presence is the read side of the registry plus account deactivation
type Presence interface {
	Get(userID string) (models.PresenceEntry, bool)
	Online() []models.PresenceEntry
	Deactivate(ctx context.Context, userID string)
}

type PresenceHandler struct {
	presence Presence
	users    services.UserStore
	logger   *utils.Logger
}

func NewPresenceHandler(presence Presence, users services.UserStore, logger *utils.Logger) *PresenceHandler {
	return &PresenceHandler{
		presence: presence,
		users:    users,
		logger:   logger,
	}
}

// GetOnlineUsers handles GET /api/v1/presence/online
func (h *PresenceHandler) GetOnlineUsers(c *gin.Context) {
	users := h.presence.Online()
	c.JSON(http.StatusOK, models.OnlineUsersResponse{
		Count: len(users),
		Users: users,
	})
}

// GetUserStatus handles GET /api/v1/presence/:userId
func (h *PresenceHandler) GetUserStatus(c *gin.Context) {
	userID := c.Param("userId")

	if entry, ok := h.presence.Get(userID); ok {
		lastSeen := entry.LastHeartbeatAt
		c.JSON(http.StatusOK, models.StatusResponse{
			UserID:   userID,
			Status:   entry.Status,
			IsOnline: true,
			LastSeen: &lastSeen,
		})
		return
	}

	user, err := h.users.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		h.logger.Error("Failed to fetch user", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch user"})
		return
	}

	c.JSON(http.StatusOK, models.StatusResponse{
		UserID:   userID,
		Status:   models.PresenceOffline,
		IsOnline: false,
		LastSeen: user.LastSeen,
	})
}

// UserDeactivated handles POST /api/v1/internal/users/:id/deactivated
func (h *PresenceHandler) UserDeactivated(c *gin.Context) {
	userID := c.Param("id")
	h.presence.Deactivate(c.Request.Context(), userID)

	h.logger.Info("Account deactivated", "user_id", userID)
	c.JSON(http.StatusOK, gin.H{"message": "User sessions closed"})
}

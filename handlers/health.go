package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Counter reports a live count for the health payload
type Counter interface {
	Count() int
}

// Health handles GET /health
func Health(sessions Counter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"service":  "locktalk-signaling",
			"version":  "1.0.0",
			"sessions": sessions.Count(),
		})
	}
}

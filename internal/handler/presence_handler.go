package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sync-service/internal/service"
)

type PresenceHandler struct {
	presence *service.PresenceService
	logger   *zap.Logger
}

func NewPresenceHandler(presence *service.PresenceService, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{
		presence: presence,
		logger:   logger,
	}
}

// GetOnlineSessions returns every registered session with its derived status.
func (h *PresenceHandler) GetOnlineSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": h.presence.List(),
		"count":    h.presence.GetActiveCount(),
	})
}

// GetUserStatus returns a user's derived status across their sessions.
// A user with no registered session is OFFLINE, not an error.
func (h *PresenceHandler) GetUserStatus(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "BAD_REQUEST", "message": "Invalid user ID"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"userId": userID.String(),
		"status": h.presence.StatusOfUser(userID),
	})
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sync-service/internal/service"
	"sync-service/internal/websocket"
)

// SyncHandler is the read-only inspection surface over the hub, used by
// operational tooling.
type SyncHandler struct {
	hub       *websocket.Hub
	presence  *service.PresenceService
	rooms     *service.RoomService
	cursors   *service.CursorService
	documents *service.DocumentService
}

func NewSyncHandler(
	hub *websocket.Hub,
	presence *service.PresenceService,
	rooms *service.RoomService,
	cursors *service.CursorService,
	documents *service.DocumentService,
) *SyncHandler {
	return &SyncHandler{
		hub:       hub,
		presence:  presence,
		rooms:     rooms,
		cursors:   cursors,
		documents: documents,
	}
}

// GetStatus reports hub counters.
func (h *SyncHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"activeSessions": h.presence.GetActiveCount(),
		"connections":    h.hub.ActiveConnections(),
		"rooms":          h.rooms.RoomCount(),
		"documents":      h.documents.Count(),
		"cursors":        h.cursors.Count(),
	})
}

// GetDocumentState returns the cached synchronization state for a
// document. A never-seen document yields an empty zero-version state.
func (h *SyncHandler) GetDocumentState(c *gin.Context) {
	documentID, err := uuid.Parse(c.Param("documentId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   gin.H{"code": "BAD_REQUEST", "message": "Invalid document ID"},
		})
		return
	}

	state := h.documents.GetState(documentID)
	c.JSON(http.StatusOK, gin.H{
		"state":   state,
		"members": h.rooms.MembersOf(documentID),
	})
}

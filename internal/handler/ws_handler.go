// internal/handler/ws_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sync-service/internal/middleware"
	"sync-service/internal/model"
	"sync-service/internal/service"
	"sync-service/internal/websocket"
)

var upgrader = gorilla.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsSession carries the resolved identity of one connection through event
// dispatch.
type wsSession struct {
	sessionID uuid.UUID
	userID    uuid.UUID
	userName  string
}

type eventHandler func(sess wsSession, payload json.RawMessage) error

// WSHandler upgrades connections and dispatches inbound events to the
// hub services through a handler-per-event-type table.
type WSHandler struct {
	hub      *websocket.Hub
	sink     service.EventSink
	resolver middleware.IdentityResolver

	presence  *service.PresenceService
	rooms     *service.RoomService
	cursors   *service.CursorService
	documents *service.DocumentService

	logger   *zap.Logger
	handlers map[string]eventHandler
}

func NewWSHandler(
	hub *websocket.Hub,
	resolver middleware.IdentityResolver,
	presence *service.PresenceService,
	rooms *service.RoomService,
	cursors *service.CursorService,
	documents *service.DocumentService,
	logger *zap.Logger,
) *WSHandler {
	h := &WSHandler{
		hub:       hub,
		sink:      hub,
		resolver:  resolver,
		presence:  presence,
		rooms:     rooms,
		cursors:   cursors,
		documents: documents,
		logger:    logger,
	}

	h.handlers = map[string]eventHandler{
		model.EventDocumentJoin:   h.handleJoin,
		model.EventDocumentLeave:  h.handleLeave,
		model.EventCursorUpdate:   h.handleCursorUpdate,
		model.EventDocumentUpdate: h.handleDocumentUpdate,
		model.EventOperationApply: h.handleOperationApply,
		model.EventPresenceStatus: h.handleStatusOverride,
		model.EventPing:           h.handlePing,
	}

	return h
}

// HandleWebSocket godoc
// @Summary      Sync hub WebSocket 연결
// @Description  실시간 presence 및 문서 동기화 WebSocket에 연결합니다
// @Tags         websocket
// @Param        token query string false "JWT Access Token (absent or invalid tokens are admitted anonymously)"
// @Success      101 {string} string "Switching Protocols"
// @Router       /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// Identity resolution never fails closed; a bad token yields an
	// anonymous viewer.
	identity := h.resolver.Resolve(ctx, c.Query("token"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	sessionID := uuid.New()
	client := websocket.NewClient(sessionID, identity.UserID, conn, h.logger)
	h.hub.Register(client)

	h.presence.Register(&model.Session{
		SessionID:       sessionID,
		UserID:          identity.UserID,
		UserName:        identity.UserName,
		IsAuthenticated: identity.IsAuthenticated,
	})

	sess := wsSession{
		sessionID: sessionID,
		userID:    identity.UserID,
		userName:  identity.UserName,
	}

	go client.WritePump()
	go client.ReadPump(
		func(message []byte) { h.dispatch(sess, message) },
		func() { h.presence.Heartbeat(sessionID) },
		func() {
			h.hub.Unregister(client)
			h.presence.Unregister(sessionID)
		},
	)
}

// dispatch decodes the envelope and routes the payload to the handler
// registered for the event type. Malformed input is answered to the
// sender only and never reaches the services.
func (h *WSHandler) dispatch(sess wsSession, raw []byte) {
	var event model.ClientEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		h.sendError(sess.sessionID, "invalid_payload", "malformed event envelope")
		return
	}

	// Any inbound event counts as liveness.
	h.presence.Heartbeat(sess.sessionID)

	handler, ok := h.handlers[event.Type]
	if !ok {
		h.logger.Warn("Unknown event type",
			zap.String("type", event.Type),
			zap.String("sessionId", sess.sessionID.String()))
		h.sendError(sess.sessionID, "unknown_event", "unsupported event type: "+event.Type)
		return
	}

	if err := handler(sess, event.Payload); err != nil {
		errType := "invalid_payload"
		if event.Type == model.EventDocumentUpdate || event.Type == model.EventOperationApply {
			errType = "document_update_error"
		}
		h.sendError(sess.sessionID, errType, err.Error())
	}
}

func (h *WSHandler) handleJoin(sess wsSession, payload json.RawMessage) error {
	var p model.JoinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	documentID, err := uuid.Parse(p.DocumentID)
	if err != nil {
		return err
	}

	members := h.rooms.Join(sess.sessionID, documentID)
	if members == nil {
		// The session was evicted while the join was in flight; the
		// connection is being torn down, so there is nobody to answer.
		return nil
	}
	state := h.documents.GetState(documentID)

	h.sink.SendToSession(sess.sessionID, model.NewEvent(model.EventDocumentJoined, model.DocumentJoinedPayload{
		DocumentID: documentID.String(),
		Members:    members,
		State:      state,
	}))

	return nil
}

func (h *WSHandler) handleLeave(sess wsSession, payload json.RawMessage) error {
	var p model.LeavePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	documentID, err := uuid.Parse(p.DocumentID)
	if err != nil {
		return err
	}

	h.rooms.Leave(sess.sessionID, documentID)
	return nil
}

func (h *WSHandler) handleCursorUpdate(sess wsSession, payload json.RawMessage) error {
	var p model.CursorUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	documentID, err := uuid.Parse(p.DocumentID)
	if err != nil {
		return err
	}

	// Cursor updates from a session not in the room race join/leave;
	// dropping them is benign.
	if !h.rooms.IsMember(documentID, sess.sessionID) {
		return nil
	}

	h.cursors.Update(sess.sessionID, documentID, sess.userID, sess.userName, p.Cursor)
	return nil
}

func (h *WSHandler) handleDocumentUpdate(sess wsSession, payload json.RawMessage) error {
	var p model.DocumentUpdatePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	documentID, err := uuid.Parse(p.DocumentID)
	if err != nil {
		return err
	}

	_, err = h.documents.ApplyUpdate(documentID, sess.sessionID, sess.userID, p.Content, p.Operation)
	return err
}

func (h *WSHandler) handleOperationApply(sess wsSession, payload json.RawMessage) error {
	var p model.OperationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	documentID, err := uuid.Parse(p.DocumentID)
	if err != nil {
		return err
	}

	return h.documents.ApplyOperation(documentID, sess.sessionID, sess.userID, p.Operation)
}

func (h *WSHandler) handleStatusOverride(sess wsSession, payload json.RawMessage) error {
	var p model.StatusOverridePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}

	switch p.Status {
	case model.PresenceActive, model.PresenceIdle, model.PresenceAway:
	default:
		return errInvalidStatus
	}

	h.presence.SetStatusOverride(sess.sessionID, p.Status)
	return nil
}

func (h *WSHandler) handlePing(sess wsSession, _ json.RawMessage) error {
	h.sink.SendToSession(sess.sessionID, model.NewEvent(model.EventPong, nil))
	return nil
}

func (h *WSHandler) sendError(sessionID uuid.UUID, errType, message string) {
	h.sink.SendToSession(sessionID, model.NewEvent(model.EventError, model.ErrorPayload{
		Type:    errType,
		Message: message,
	}))
}

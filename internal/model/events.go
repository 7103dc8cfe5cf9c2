// internal/model/events.go
package model

import (
	"encoding/json"
	"time"
)

// Client-to-hub event names.
const (
	EventDocumentJoin   = "document:join"
	EventDocumentLeave  = "document:leave"
	EventCursorUpdate   = "cursor:update"
	EventDocumentUpdate = "document:update"
	EventOperationApply = "operation:apply"
	EventPresenceStatus = "presence:status"
	EventPing           = "ping"
)

// Hub-to-client event names.
const (
	EventPong               = "pong"
	EventUserConnected      = "user:connected"
	EventUserDisconnected   = "user:disconnected"
	EventUserJoinedDocument = "user:joined-document"
	EventUserLeftDocument   = "user:left-document"
	EventDocumentJoined     = "document:joined"
	EventCursorUpdated      = "cursor:updated"
	EventCursorRemoved      = "cursor:removed"
	EventDocumentUpdated    = "document:updated"
	EventOperationReceived  = "operation:received"
	EventError              = "error"
)

// Event is an outbound wire message.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func NewEvent(eventType string, payload interface{}) *Event {
	return &Event{Type: eventType, Payload: payload}
}

// ClientEvent is the inbound envelope; the payload stays raw until the
// registered handler for the event type decodes it.
type ClientEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound payloads.

type JoinPayload struct {
	DocumentID string          `json:"documentId"`
	UserInfo   json.RawMessage `json:"userInfo,omitempty"`
}

type LeavePayload struct {
	DocumentID string `json:"documentId"`
}

type CursorUpdatePayload struct {
	DocumentID string         `json:"documentId"`
	Cursor     CursorPosition `json:"cursor"`
}

type DocumentUpdatePayload struct {
	DocumentID string          `json:"documentId"`
	Operation  json.RawMessage `json:"operation,omitempty"`
	Content    string          `json:"content,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

type OperationPayload struct {
	DocumentID string          `json:"documentId"`
	Operation  json.RawMessage `json:"operation"`
}

type StatusOverridePayload struct {
	Status PresenceStatus `json:"status"`
}

// Outbound payloads.

type DocumentJoinedPayload struct {
	DocumentID string            `json:"documentId"`
	Members    []SessionSnapshot `json:"members"`
	State      DocumentState     `json:"state"`
}

type UserDocumentPayload struct {
	DocumentID string           `json:"documentId"`
	UserID     string           `json:"userId"`
	SessionID  string           `json:"sessionId"`
	User       *SessionSnapshot `json:"user,omitempty"`
}

type CursorUpdatedPayload struct {
	UserID    string          `json:"userId"`
	UserInfo  json.RawMessage `json:"userInfo,omitempty"`
	Cursor    CursorRecord    `json:"cursor"`
	Timestamp time.Time       `json:"timestamp"`
}

type CursorRemovedPayload struct {
	DocumentID string `json:"documentId"`
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId"`
}

type DocumentUpdatedPayload struct {
	DocumentID string          `json:"documentId"`
	Operation  json.RawMessage `json:"operation,omitempty"`
	Content    string          `json:"content,omitempty"`
	Metadata   UpdateMetadata  `json:"metadata"`
}

type UpdateMetadata struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Version   int64     `json:"version"`
}

type OperationReceivedPayload struct {
	Operation json.RawMessage `json:"operation"`
	UserID    string          `json:"userId"`
	Timestamp time.Time       `json:"timestamp"`
}

type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

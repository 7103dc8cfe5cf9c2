// internal/model/cursor.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type SelectionRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// CursorPosition is what a client sends in cursor:update.
type CursorPosition struct {
	Position  int             `json:"position"`
	Selection *SelectionRange `json:"selection,omitempty"`
}

// CursorRecord is the ephemeral per-(session, document) cursor state.
// A new update from the same session supersedes it; it is removed when
// the session leaves the room.
type CursorRecord struct {
	SessionID  uuid.UUID       `json:"sessionId"`
	DocumentID uuid.UUID       `json:"documentId"`
	UserID     uuid.UUID       `json:"userId"`
	UserName   string          `json:"userName,omitempty"`
	Position   int             `json:"position"`
	Selection  *SelectionRange `json:"selection,omitempty"`
	Color      string          `json:"color"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

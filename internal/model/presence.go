// internal/model/presence.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionPresence is the write-through database row mirroring a session's
// last known status. The in-memory registry stays authoritative.
type SessionPresence struct {
	SessionID uuid.UUID      `gorm:"type:uuid;primaryKey" json:"sessionId"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;index:idx_user_status" json:"userId"`
	Status    PresenceStatus `gorm:"type:varchar(20);default:'ACTIVE';index:idx_user_status" json:"status"`
	LastSeen  time.Time      `gorm:"autoCreateTime" json:"lastSeen"`
}

func (SessionPresence) TableName() string {
	return "session_presence"
}

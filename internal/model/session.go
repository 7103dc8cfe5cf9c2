// internal/model/session.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type PresenceStatus string

const (
	PresenceActive  PresenceStatus = "ACTIVE"
	PresenceIdle    PresenceStatus = "IDLE"
	PresenceAway    PresenceStatus = "AWAY"
	PresenceOffline PresenceStatus = "OFFLINE"
)

// Session is one live connection tracked by the presence registry.
// It is owned by the registry and mutated only through registry operations.
type Session struct {
	SessionID         uuid.UUID
	UserID            uuid.UUID
	UserName          string
	IsAuthenticated   bool
	ConnectedAt       time.Time
	LastSeen          time.Time
	CurrentDocumentID *uuid.UUID

	// StatusOverride pins the reported status (e.g. tab visibility
	// change) until the next heartbeat clears it.
	StatusOverride *PresenceStatus
}

// Status derives the presence status from heartbeat recency. An explicit
// override wins until activity resumes.
func (s *Session) Status(now time.Time, idleThreshold, awayThreshold time.Duration) PresenceStatus {
	if s.StatusOverride != nil {
		return *s.StatusOverride
	}
	since := now.Sub(s.LastSeen)
	switch {
	case since < idleThreshold:
		return PresenceActive
	case since < awayThreshold:
		return PresenceIdle
	default:
		return PresenceAway
	}
}

// SessionSnapshot is the wire representation of a session's presence.
type SessionSnapshot struct {
	SessionID         string         `json:"sessionId"`
	UserID            string         `json:"userId"`
	UserName          string         `json:"userName,omitempty"`
	IsAuthenticated   bool           `json:"isAuthenticated"`
	Status            PresenceStatus `json:"status"`
	ConnectedAt       time.Time      `json:"connectedAt"`
	LastSeen          time.Time      `json:"lastSeen"`
	CurrentDocumentID *string        `json:"currentDocumentId,omitempty"`
}

package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sync-service/internal/metrics"
	"sync-service/internal/model"
	"sync-service/internal/repository"
)

// EventSink delivers one event to one session. The WebSocket hub
// implements it; tests substitute a recorder.
type EventSink interface {
	SendToSession(sessionID uuid.UUID, event *model.Event)
}

const presenceChannel = "presence:events"

// PresenceService is the registry of all currently-connected sessions.
// It owns the Session records; every mutation goes through it. Room
// membership cleanup hangs off Unregister so explicit disconnects and
// sweeper evictions share one code path.
type PresenceService struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*model.Session

	idleThreshold time.Duration
	awayThreshold time.Duration

	sink    EventSink
	repo    *repository.PresenceRepository
	redis   *redis.Client
	logger  *zap.Logger
	metrics *metrics.Metrics

	hooksMu         sync.Mutex
	unregisterHooks []func(sessionID uuid.UUID)
}

func NewPresenceService(
	sink EventSink,
	repo *repository.PresenceRepository,
	redisClient *redis.Client,
	logger *zap.Logger,
	m *metrics.Metrics,
	idleThreshold, awayThreshold time.Duration,
) *PresenceService {
	return &PresenceService{
		sessions:      make(map[uuid.UUID]*model.Session),
		idleThreshold: idleThreshold,
		awayThreshold: awayThreshold,
		sink:          sink,
		repo:          repo,
		redis:         redisClient,
		logger:        logger,
		metrics:       m,
	}
}

// OnUnregister registers a cleanup hook invoked for every removed
// session, whatever triggered the removal.
func (s *PresenceService) OnUnregister(hook func(sessionID uuid.UUID)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.unregisterHooks = append(s.unregisterHooks, hook)
}

// Register inserts or replaces the session record. user:connected goes
// out to the other sessions only on a genuinely new registration, never
// on a replacement with the same sessionId.
func (s *PresenceService) Register(session *model.Session) {
	now := time.Now()
	if session.ConnectedAt.IsZero() {
		session.ConnectedAt = now
	}
	if session.LastSeen.IsZero() {
		session.LastSeen = now
	}

	s.mu.Lock()
	_, existed := s.sessions[session.SessionID]
	s.sessions[session.SessionID] = session
	others := s.otherSessionIDsLocked(session.SessionID)
	snapshot := s.snapshotLocked(session, now)
	count := len(s.sessions)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionsActive.Set(float64(count))
	}

	s.writeThrough(session.SessionID, session.UserID, model.PresenceActive)

	if existed {
		return
	}

	event := model.NewEvent(model.EventUserConnected, snapshot)
	for _, id := range others {
		s.sink.SendToSession(id, event)
	}
	s.publishStatus(session.SessionID, session.UserID, model.PresenceActive)

	s.logger.Info("Session registered",
		zap.String("sessionId", session.SessionID.String()),
		zap.String("userId", session.UserID.String()),
		zap.Bool("authenticated", session.IsAuthenticated))
}

// Heartbeat refreshes lastSeen. Unknown sessions are a no-op because a
// heartbeat may race with eviction.
func (s *PresenceService) Heartbeat(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return
	}
	session.LastSeen = time.Now()
	session.StatusOverride = nil
}

// SetStatusOverride pins an explicit status (e.g. page visibility). The
// next heartbeat clears it and the time-based derivation takes over.
func (s *PresenceService) SetStatusOverride(sessionID uuid.UUID, status model.PresenceStatus) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	session.StatusOverride = &status
	userID := session.UserID
	s.mu.Unlock()

	s.writeThrough(sessionID, userID, status)
	s.publishStatus(sessionID, userID, status)
}

// Unregister removes the session, runs room cleanup hooks, and tells the
// remaining sessions. Idempotent: disconnect and timeout eviction may
// race for the same session.
func (s *PresenceService) Unregister(sessionID uuid.UUID) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, sessionID)
	others := s.otherSessionIDsLocked(sessionID)
	count := len(s.sessions)
	userID := session.UserID
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SessionsActive.Set(float64(count))
	}

	// Room membership and cursor records go first so peers see
	// user:left-document before user:disconnected.
	s.hooksMu.Lock()
	hooks := make([]func(uuid.UUID), len(s.unregisterHooks))
	copy(hooks, s.unregisterHooks)
	s.hooksMu.Unlock()
	for _, hook := range hooks {
		hook(sessionID)
	}

	event := model.NewEvent(model.EventUserDisconnected, map[string]string{
		"sessionId": sessionID.String(),
		"userId":    userID.String(),
	})
	for _, id := range others {
		s.sink.SendToSession(id, event)
	}

	if s.repo != nil {
		if err := s.repo.SetOffline(sessionID); err != nil {
			s.logger.Error("Failed to mark session offline in DB", zap.Error(err))
		}
	}
	s.publishStatus(sessionID, userID, model.PresenceOffline)

	s.logger.Info("Session unregistered",
		zap.String("sessionId", sessionID.String()),
		zap.String("userId", userID.String()))
}

// Get returns a copy of the session record.
func (s *PresenceService) Get(sessionID uuid.UUID) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return model.Session{}, false
	}
	return *session, true
}

// Snapshot returns the wire presence snapshot for one session.
func (s *PresenceService) Snapshot(sessionID uuid.UUID) (model.SessionSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return model.SessionSnapshot{}, false
	}
	return s.snapshotLocked(session, time.Now()), true
}

// List returns presence snapshots for every registered session.
func (s *PresenceService) List() []model.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	snapshots := make([]model.SessionSnapshot, 0, len(s.sessions))
	for _, session := range s.sessions {
		snapshots = append(snapshots, s.snapshotLocked(session, now))
	}
	return snapshots
}

// GetActiveCount returns the number of registered sessions.
func (s *PresenceService) GetActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StatusOfUser derives the status of a user across their sessions. A user
// with no registered session is offline.
func (s *PresenceService) StatusOfUser(userID uuid.UUID) model.PresenceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	best := model.PresenceOffline
	for _, session := range s.sessions {
		if session.UserID != userID {
			continue
		}
		status := session.Status(now, s.idleThreshold, s.awayThreshold)
		switch {
		case status == model.PresenceActive:
			return model.PresenceActive
		case status == model.PresenceIdle && best != model.PresenceActive:
			best = model.PresenceIdle
		case status == model.PresenceAway && best == model.PresenceOffline:
			best = model.PresenceAway
		}
	}
	return best
}

// SetCurrentDocument keeps the session record consistent with room
// membership. Called only by the room manager. Reports whether the
// session is still registered so the caller can detect a join that
// raced an eviction.
func (s *PresenceService) SetCurrentDocument(sessionID uuid.UUID, documentID *uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	session.CurrentDocumentID = documentID
	return true
}

// ExpiredSessions returns the sessions whose lastSeen is older than the
// timeout. A fresh session that reconnected with a new sessionId is never
// included, only the stale one.
func (s *PresenceService) ExpiredSessions(timeout time.Duration) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-timeout)
	var expired []uuid.UUID
	for id, session := range s.sessions {
		if session.LastSeen.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	return expired
}

func (s *PresenceService) otherSessionIDsLocked(exclude uuid.UUID) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(s.sessions))
	for id := range s.sessions {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *PresenceService) snapshotLocked(session *model.Session, now time.Time) model.SessionSnapshot {
	snapshot := model.SessionSnapshot{
		SessionID:       session.SessionID.String(),
		UserID:          session.UserID.String(),
		UserName:        session.UserName,
		IsAuthenticated: session.IsAuthenticated,
		Status:          session.Status(now, s.idleThreshold, s.awayThreshold),
		ConnectedAt:     session.ConnectedAt,
		LastSeen:        session.LastSeen,
	}
	if session.CurrentDocumentID != nil {
		doc := session.CurrentDocumentID.String()
		snapshot.CurrentDocumentID = &doc
	}
	return snapshot
}

func (s *PresenceService) writeThrough(sessionID, userID uuid.UUID, status model.PresenceStatus) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SetStatus(sessionID, userID, status); err != nil {
		s.logger.Error("Failed to write presence status to DB",
			zap.String("sessionId", sessionID.String()),
			zap.Error(err))
	}
}

func (s *PresenceService) publishStatus(sessionID, userID uuid.UUID, status model.PresenceStatus) {
	if s.redis == nil {
		return
	}

	data, err := json.Marshal(map[string]interface{}{
		"type":      "USER_STATUS",
		"sessionId": sessionID.String(),
		"userId":    userID.String(),
		"status":    status,
	})
	if err != nil {
		return
	}

	if err := s.redis.Publish(context.Background(), presenceChannel, data).Err(); err != nil {
		s.logger.Error("Failed to publish presence status", zap.Error(err))
	}
}

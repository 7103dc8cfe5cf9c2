package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sync-service/internal/metrics"
	"sync-service/internal/model"
)

// RoomService tracks per-document membership. A session belongs to at
// most one room; joining a new document leaves the previous one first.
// Rooms are created lazily and left dormant when emptied so the document
// state cache can outlive brief everyone-left windows.
type RoomService struct {
	mu         sync.RWMutex
	rooms      map[uuid.UUID]map[uuid.UUID]uuid.UUID // documentID -> sessionID -> userID
	bySession  map[uuid.UUID]uuid.UUID               // sessionID -> documentID
	emptySince map[uuid.UUID]time.Time

	presence *PresenceService
	sink     EventSink
	logger   *zap.Logger
	metrics  *metrics.Metrics

	hooksMu    sync.Mutex
	leaveHooks []func(sessionID, documentID uuid.UUID, remaining []uuid.UUID)
}

func NewRoomService(presence *PresenceService, sink EventSink, logger *zap.Logger, m *metrics.Metrics) *RoomService {
	s := &RoomService{
		rooms:      make(map[uuid.UUID]map[uuid.UUID]uuid.UUID),
		bySession:  make(map[uuid.UUID]uuid.UUID),
		emptySince: make(map[uuid.UUID]time.Time),
		presence:   presence,
		sink:       sink,
		logger:     logger,
		metrics:    m,
	}

	// Every presence eviction, explicit or swept, detaches the session
	// from its room through this single path.
	presence.OnUnregister(s.Detach)

	return s
}

// OnLeave registers a hook run after a session leaves a room, with the
// members that remain. The cursor channel uses it to drop cursor records.
func (s *RoomService) OnLeave(hook func(sessionID, documentID uuid.UUID, remaining []uuid.UUID)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.leaveHooks = append(s.leaveHooks, hook)
}

// Join adds the session to the document's room and returns the current
// member snapshots so the joining client can render collaborators
// immediately. Re-joining the current room is idempotent and re-sends the
// snapshot.
func (s *RoomService) Join(sessionID, documentID uuid.UUID) []model.SessionSnapshot {
	session, ok := s.presence.Get(sessionID)
	if !ok {
		// Join racing an eviction; nothing to admit.
		return nil
	}

	s.mu.Lock()
	previous, inRoom := s.bySession[sessionID]
	if inRoom && previous == documentID {
		members := s.memberIDsLocked(documentID)
		s.mu.Unlock()
		return s.snapshots(members)
	}

	var left *leaveResult
	if inRoom {
		left = s.leaveLocked(sessionID, previous)
	}

	room, ok := s.rooms[documentID]
	if !ok {
		room = make(map[uuid.UUID]uuid.UUID)
		s.rooms[documentID] = room
	}
	room[sessionID] = session.UserID
	delete(s.emptySince, documentID)

	s.bySession[sessionID] = documentID
	peers := s.peerIDsLocked(documentID, sessionID)
	members := s.memberIDsLocked(documentID)
	roomCount := len(s.rooms)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RoomsActive.Set(float64(roomCount))
	}

	if left != nil {
		s.finishLeave(left)
	}

	// The session may have been evicted between the presence check and
	// the membership insert; its Detach hook ran before the insert and
	// found nothing, so undo the insert here or the room keeps a ghost
	// member forever.
	docID := documentID
	if !s.presence.SetCurrentDocument(sessionID, &docID) {
		s.mu.Lock()
		ghost := s.leaveLocked(sessionID, documentID)
		s.mu.Unlock()
		if ghost != nil {
			// Peers never saw this session join, so skip the
			// user:left-document notification and run only the hooks.
			s.runLeaveHooks(ghost)
		}
		return nil
	}

	if snapshot, ok := s.presence.Snapshot(sessionID); ok {
		event := model.NewEvent(model.EventUserJoinedDocument, model.UserDocumentPayload{
			DocumentID: documentID.String(),
			UserID:     session.UserID.String(),
			SessionID:  sessionID.String(),
			User:       &snapshot,
		})
		for _, peer := range peers {
			s.sink.SendToSession(peer, event)
		}
	}

	s.logger.Debug("Session joined document",
		zap.String("sessionId", sessionID.String()),
		zap.String("documentId", documentID.String()),
		zap.Int("members", len(members)))

	return s.snapshots(members)
}

// Leave removes the session from the room. Leaving a room the session is
// not in is a no-op.
func (s *RoomService) Leave(sessionID, documentID uuid.UUID) {
	s.mu.Lock()
	left := s.leaveLocked(sessionID, documentID)
	s.mu.Unlock()

	if left == nil {
		return
	}

	s.presence.SetCurrentDocument(sessionID, nil)
	s.finishLeave(left)
}

// Detach removes the session from whatever room it currently occupies.
func (s *RoomService) Detach(sessionID uuid.UUID) {
	s.mu.Lock()
	documentID, ok := s.bySession[sessionID]
	var left *leaveResult
	if ok {
		left = s.leaveLocked(sessionID, documentID)
	}
	s.mu.Unlock()

	if left == nil {
		return
	}

	s.presence.SetCurrentDocument(sessionID, nil)
	s.finishLeave(left)
}

// IsMember reports whether the session is currently in the room.
func (s *RoomService) IsMember(documentID, sessionID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[documentID][sessionID]
	return ok
}

// MembersOf returns a snapshot of the room's member session ids.
func (s *RoomService) MembersOf(documentID uuid.UUID) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memberIDsLocked(documentID)
}

// PeersOf returns the room members excluding one session.
func (s *RoomService) PeersOf(documentID, exclude uuid.UUID) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerIDsLocked(documentID, exclude)
}

// RoomCount returns the number of rooms with at least one member.
func (s *RoomService) RoomCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// DormantRooms returns documents whose room has been empty longer than
// the retention window.
func (s *RoomService) DormantRooms(retention time.Duration) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-retention)
	var dormant []uuid.UUID
	for documentID, emptiedAt := range s.emptySince {
		if emptiedAt.Before(cutoff) {
			dormant = append(dormant, documentID)
		}
	}
	return dormant
}

// Forget clears the dormancy record once the document state is evicted.
func (s *RoomService) Forget(documentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.emptySince, documentID)
}

type leaveResult struct {
	sessionID  uuid.UUID
	userID     uuid.UUID
	documentID uuid.UUID
	remaining  []uuid.UUID
}

// leaveLocked mutates membership only; notifications happen after the
// lock is released.
func (s *RoomService) leaveLocked(sessionID, documentID uuid.UUID) *leaveResult {
	room, ok := s.rooms[documentID]
	if !ok {
		return nil
	}
	userID, member := room[sessionID]
	if !member {
		return nil
	}

	delete(room, sessionID)
	delete(s.bySession, sessionID)
	if len(room) == 0 {
		delete(s.rooms, documentID)
		s.emptySince[documentID] = time.Now()
	}

	if s.metrics != nil {
		s.metrics.RoomsActive.Set(float64(len(s.rooms)))
	}

	return &leaveResult{
		sessionID:  sessionID,
		userID:     userID,
		documentID: documentID,
		remaining:  s.memberIDsLocked(documentID),
	}
}

func (s *RoomService) finishLeave(left *leaveResult) {
	event := model.NewEvent(model.EventUserLeftDocument, model.UserDocumentPayload{
		DocumentID: left.documentID.String(),
		UserID:     left.userID.String(),
		SessionID:  left.sessionID.String(),
	})
	for _, id := range left.remaining {
		s.sink.SendToSession(id, event)
	}

	s.runLeaveHooks(left)

	s.logger.Debug("Session left document",
		zap.String("sessionId", left.sessionID.String()),
		zap.String("documentId", left.documentID.String()),
		zap.Int("remaining", len(left.remaining)))
}

func (s *RoomService) runLeaveHooks(left *leaveResult) {
	s.hooksMu.Lock()
	hooks := make([]func(uuid.UUID, uuid.UUID, []uuid.UUID), len(s.leaveHooks))
	copy(hooks, s.leaveHooks)
	s.hooksMu.Unlock()
	for _, hook := range hooks {
		hook(left.sessionID, left.documentID, left.remaining)
	}
}

func (s *RoomService) memberIDsLocked(documentID uuid.UUID) []uuid.UUID {
	room := s.rooms[documentID]
	ids := make([]uuid.UUID, 0, len(room))
	for id := range room {
		ids = append(ids, id)
	}
	return ids
}

func (s *RoomService) peerIDsLocked(documentID, exclude uuid.UUID) []uuid.UUID {
	room := s.rooms[documentID]
	ids := make([]uuid.UUID, 0, len(room))
	for id := range room {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *RoomService) snapshots(sessionIDs []uuid.UUID) []model.SessionSnapshot {
	snapshots := make([]model.SessionSnapshot, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		if snapshot, ok := s.presence.Snapshot(id); ok {
			snapshots = append(snapshots, snapshot)
		}
	}
	return snapshots
}

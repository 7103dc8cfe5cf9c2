package service

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sync-service/internal/metrics"
	"sync-service/internal/model"
)

// cursorPalette assigns stable colors: the same userId hashes to the same
// color across reconnects.
var cursorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#fabebe",
	"#008080", "#e6beff", "#9a6324", "#800000", "#aaffc3",
}

// ColorForUser derives a deterministic cursor color from the user id.
func ColorForUser(userID uuid.UUID) string {
	h := fnv.New32a()
	h.Write(userID[:])
	return cursorPalette[h.Sum32()%uint32(len(cursorPalette))]
}

type cursorKey struct {
	sessionID  uuid.UUID
	documentID uuid.UUID
}

// CursorService relays cursor positions between room members. Updates
// from one session faster than the throttle interval are coalesced: only
// the most recent position in the window goes out, and the final one in a
// burst is flushed by a trailing timer rather than dropped.
type CursorService struct {
	mu       sync.Mutex
	records  map[cursorKey]*model.CursorRecord
	lastSent map[cursorKey]time.Time
	pending  map[cursorKey]*model.CursorRecord
	timers   map[cursorKey]*time.Timer

	throttle time.Duration
	rooms    *RoomService
	sink     EventSink
	logger   *zap.Logger
	metrics  *metrics.Metrics

	now func() time.Time
}

func NewCursorService(rooms *RoomService, sink EventSink, logger *zap.Logger, m *metrics.Metrics, throttle time.Duration) *CursorService {
	s := &CursorService{
		records:  make(map[cursorKey]*model.CursorRecord),
		lastSent: make(map[cursorKey]time.Time),
		pending:  make(map[cursorKey]*model.CursorRecord),
		timers:   make(map[cursorKey]*time.Timer),
		throttle: throttle,
		rooms:    rooms,
		sink:     sink,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}

	rooms.OnLeave(s.handleLeave)

	return s
}

// Update supersedes the session's cursor record and broadcasts it to the
// other room members, subject to the throttle.
func (s *CursorService) Update(sessionID, documentID, userID uuid.UUID, userName string, position model.CursorPosition) {
	record := &model.CursorRecord{
		SessionID:  sessionID,
		DocumentID: documentID,
		UserID:     userID,
		UserName:   userName,
		Position:   position.Position,
		Selection:  position.Selection,
		Color:      ColorForUser(userID),
		UpdatedAt:  s.now(),
	}

	key := cursorKey{sessionID: sessionID, documentID: documentID}

	s.mu.Lock()
	s.records[key] = record

	if _, armed := s.timers[key]; armed {
		// A trailing flush is already scheduled; it will pick up this
		// newer position.
		s.pending[key] = record
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.CursorCoalescedTotal.Inc()
		}
		return
	}

	elapsed := s.now().Sub(s.lastSent[key])
	if elapsed >= s.throttle {
		s.lastSent[key] = s.now()
		s.mu.Unlock()
		s.broadcast(record)
		return
	}

	s.pending[key] = record
	s.timers[key] = time.AfterFunc(s.throttle-elapsed, func() {
		s.flush(key)
	})
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.CursorCoalescedTotal.Inc()
	}
}

// Count returns the number of live cursor records.
func (s *CursorService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Get returns the current cursor record for a (session, document) pair.
func (s *CursorService) Get(sessionID, documentID uuid.UUID) (model.CursorRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[cursorKey{sessionID: sessionID, documentID: documentID}]
	if !ok {
		return model.CursorRecord{}, false
	}
	return *record, true
}

func (s *CursorService) flush(key cursorKey) {
	s.mu.Lock()
	record := s.pending[key]
	delete(s.pending, key)
	delete(s.timers, key)
	if record == nil {
		s.mu.Unlock()
		return
	}
	s.lastSent[key] = s.now()
	s.mu.Unlock()

	s.broadcast(record)
}

func (s *CursorService) broadcast(record *model.CursorRecord) {
	peers := s.rooms.PeersOf(record.DocumentID, record.SessionID)
	if len(peers) == 0 {
		return
	}

	event := model.NewEvent(model.EventCursorUpdated, model.CursorUpdatedPayload{
		UserID:    record.UserID.String(),
		Cursor:    *record,
		Timestamp: record.UpdatedAt,
	})
	for _, peer := range peers {
		s.sink.SendToSession(peer, event)
	}

	if s.metrics != nil {
		s.metrics.CursorBroadcastsTotal.Inc()
	}
}

// handleLeave drops the cursor record when its session leaves the room
// and tells the remaining members.
func (s *CursorService) handleLeave(sessionID, documentID uuid.UUID, remaining []uuid.UUID) {
	key := cursorKey{sessionID: sessionID, documentID: documentID}

	s.mu.Lock()
	record, existed := s.records[key]
	delete(s.records, key)
	delete(s.pending, key)
	delete(s.lastSent, key)
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()

	if !existed {
		return
	}

	event := model.NewEvent(model.EventCursorRemoved, model.CursorRemovedPayload{
		DocumentID: documentID.String(),
		SessionID:  sessionID.String(),
		UserID:     record.UserID.String(),
	})
	for _, id := range remaining {
		s.sink.SendToSession(id, event)
	}
}

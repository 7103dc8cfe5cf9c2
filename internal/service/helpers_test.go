package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sync-service/internal/model"
)

// recordingSink captures every event the services address to a session.
type recordingSink struct {
	mu     sync.Mutex
	events []sentEvent
}

type sentEvent struct {
	To    uuid.UUID
	Event *model.Event
}

func (s *recordingSink) SendToSession(sessionID uuid.UUID, event *model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sentEvent{To: sessionID, Event: event})
}

func (s *recordingSink) all() []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordingSink) ofType(eventType string) []sentEvent {
	var out []sentEvent
	for _, e := range s.all() {
		if e.Event.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) toSession(sessionID uuid.UUID, eventType string) []sentEvent {
	var out []sentEvent
	for _, e := range s.ofType(eventType) {
		if e.To == sessionID {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

type testFixture struct {
	sink      *recordingSink
	presence  *PresenceService
	rooms     *RoomService
	cursors   *CursorService
	documents *DocumentService
}

func newTestFixture(throttle time.Duration) *testFixture {
	sink := &recordingSink{}
	logger := zap.NewNop()

	presence := NewPresenceService(sink, nil, nil, logger, nil, time.Minute, 5*time.Minute)
	rooms := NewRoomService(presence, sink, logger, nil)
	cursors := NewCursorService(rooms, sink, logger, nil, throttle)
	documents := NewDocumentService(rooms, sink, nil, logger, nil)

	return &testFixture{
		sink:      sink,
		presence:  presence,
		rooms:     rooms,
		cursors:   cursors,
		documents: documents,
	}
}

func (f *testFixture) registerSession(userID uuid.UUID) uuid.UUID {
	sessionID := uuid.New()
	f.presence.Register(&model.Session{
		SessionID:       sessionID,
		UserID:          userID,
		IsAuthenticated: true,
	})
	return sessionID
}

package handler

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sync-service/internal/model"
	"sync-service/internal/service"
)

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

func (s *recordingSink) toSession(sessionID uuid.UUID, eventType string) []sentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sentEvent
	for _, e := range s.events {
		if e.To == sessionID && e.Event.Type == eventType {
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

type handlerFixture struct {
	sink     *recordingSink
	presence *service.PresenceService
	rooms    *service.RoomService
	handler  *WSHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	sink := &recordingSink{}
	logger := zap.NewNop()

	presence := service.NewPresenceService(sink, nil, nil, logger, nil, time.Minute, 5*time.Minute)
	rooms := service.NewRoomService(presence, sink, logger, nil)
	cursors := service.NewCursorService(rooms, sink, logger, nil, time.Millisecond)
	documents := service.NewDocumentService(rooms, sink, nil, logger, nil)

	h := NewWSHandler(nil, nil, presence, rooms, cursors, documents, logger)
	h.sink = sink

	return &handlerFixture{sink: sink, presence: presence, rooms: rooms, handler: h}
}

func (f *handlerFixture) connect(t *testing.T) wsSession {
	t.Helper()
	sess := wsSession{sessionID: uuid.New(), userID: uuid.New(), userName: "tester"}
	f.presence.Register(&model.Session{
		SessionID:       sess.sessionID,
		UserID:          sess.userID,
		UserName:        sess.userName,
		IsAuthenticated: true,
	})
	f.sink.reset()
	return sess
}

func envelope(t *testing.T, eventType string, payload interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(model.ClientEvent{Type: eventType, Payload: data})
	require.NoError(t, err)
	return raw
}

func TestDispatchMalformedEnvelope(t *testing.T) {
	f := newHandlerFixture(t)
	sess := f.connect(t)

	f.handler.dispatch(sess, []byte("{not json"))

	errs := f.sink.toSession(sess.sessionID, model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "invalid_payload", errs[0].Event.Payload.(model.ErrorPayload).Type)
}

func TestDispatchUnknownEventType(t *testing.T) {
	f := newHandlerFixture(t)
	sess := f.connect(t)

	f.handler.dispatch(sess, envelope(t, "document:rename", map[string]string{}))

	errs := f.sink.toSession(sess.sessionID, model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "unknown_event", errs[0].Event.Payload.(model.ErrorPayload).Type)
}

func TestDispatchRefreshesLiveness(t *testing.T) {
	f := newHandlerFixture(t)
	sess := f.connect(t)

	f.presence.Register(&model.Session{
		SessionID: sess.sessionID,
		UserID:    sess.userID,
		LastSeen:  time.Now().Add(-time.Hour),
	})

	f.handler.dispatch(sess, envelope(t, model.EventPing, nil))

	session, ok := f.presence.Get(sess.sessionID)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), session.LastSeen, time.Second)
}

func TestJoinRepliesWithMembersAndState(t *testing.T) {
	f := newHandlerFixture(t)
	peer := f.connect(t)
	sess := f.connect(t)

	docID := uuid.New()
	f.rooms.Join(peer.sessionID, docID)
	f.sink.reset()

	f.handler.dispatch(sess, envelope(t, model.EventDocumentJoin, model.JoinPayload{
		DocumentID: docID.String(),
	}))

	joined := f.sink.toSession(sess.sessionID, model.EventDocumentJoined)
	require.Len(t, joined, 1)
	payload := joined[0].Event.Payload.(model.DocumentJoinedPayload)
	assert.Equal(t, docID.String(), payload.DocumentID)
	assert.Len(t, payload.Members, 2)
	assert.Equal(t, int64(0), payload.State.Version)

	assert.Len(t, f.sink.toSession(peer.sessionID, model.EventUserJoinedDocument), 1)
}

func TestJoinAfterEvictionSendsNoReply(t *testing.T) {
	f := newHandlerFixture(t)
	sess := f.connect(t)

	// The sweeper evicted the session while document:join was in flight.
	f.presence.Unregister(sess.sessionID)
	f.sink.reset()

	f.handler.dispatch(sess, envelope(t, model.EventDocumentJoin, model.JoinPayload{
		DocumentID: uuid.New().String(),
	}))

	assert.Empty(t, f.sink.toSession(sess.sessionID, model.EventDocumentJoined))
	assert.Empty(t, f.sink.toSession(sess.sessionID, model.EventError))
}

func TestJoinBadDocumentID(t *testing.T) {
	f := newHandlerFixture(t)
	sess := f.connect(t)

	f.handler.dispatch(sess, envelope(t, model.EventDocumentJoin, model.JoinPayload{
		DocumentID: "not-a-uuid",
	}))

	errs := f.sink.toSession(sess.sessionID, model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "invalid_payload", errs[0].Event.Payload.(model.ErrorPayload).Type)
	assert.Empty(t, f.sink.toSession(sess.sessionID, model.EventDocumentJoined))
}

func TestLeaveRoutesToRoomService(t *testing.T) {
	f := newHandlerFixture(t)
	peer := f.connect(t)
	sess := f.connect(t)

	docID := uuid.New()
	f.rooms.Join(peer.sessionID, docID)
	f.rooms.Join(sess.sessionID, docID)
	f.sink.reset()

	f.handler.dispatch(sess, envelope(t, model.EventDocumentLeave, model.LeavePayload{
		DocumentID: docID.String(),
	}))

	assert.False(t, f.rooms.IsMember(docID, sess.sessionID))
	assert.Len(t, f.sink.toSession(peer.sessionID, model.EventUserLeftDocument), 1)
}

func TestCursorUpdateFromNonMemberIsDropped(t *testing.T) {
	f := newHandlerFixture(t)
	peer := f.connect(t)
	sess := f.connect(t)

	docID := uuid.New()
	f.rooms.Join(peer.sessionID, docID)
	f.sink.reset()

	f.handler.dispatch(sess, envelope(t, model.EventCursorUpdate, model.CursorUpdatePayload{
		DocumentID: docID.String(),
		Cursor:     model.CursorPosition{Position: 3},
	}))

	// Benign race with join/leave: no error, no broadcast.
	assert.Empty(t, f.sink.toSession(sess.sessionID, model.EventError))
	assert.Empty(t, f.sink.toSession(peer.sessionID, model.EventCursorUpdated))
}

func TestCursorUpdateFromMemberBroadcasts(t *testing.T) {
	f := newHandlerFixture(t)
	peer := f.connect(t)
	sess := f.connect(t)

	docID := uuid.New()
	f.rooms.Join(peer.sessionID, docID)
	f.rooms.Join(sess.sessionID, docID)
	f.sink.reset()

	f.handler.dispatch(sess, envelope(t, model.EventCursorUpdate, model.CursorUpdatePayload{
		DocumentID: docID.String(),
		Cursor:     model.CursorPosition{Position: 7},
	}))

	updated := f.sink.toSession(peer.sessionID, model.EventCursorUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, 7, updated[0].Event.Payload.(model.CursorUpdatedPayload).Cursor.Position)
}

func TestDocumentUpdateEmptyPayloadError(t *testing.T) {
	f := newHandlerFixture(t)
	sess := f.connect(t)
	docID := uuid.New()
	f.rooms.Join(sess.sessionID, docID)
	f.sink.reset()

	f.handler.dispatch(sess, envelope(t, model.EventDocumentUpdate, model.DocumentUpdatePayload{
		DocumentID: docID.String(),
	}))

	errs := f.sink.toSession(sess.sessionID, model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "document_update_error", errs[0].Event.Payload.(model.ErrorPayload).Type)
}

func TestDocumentUpdateBroadcastsToPeers(t *testing.T) {
	f := newHandlerFixture(t)
	peer := f.connect(t)
	sess := f.connect(t)

	docID := uuid.New()
	f.rooms.Join(peer.sessionID, docID)
	f.rooms.Join(sess.sessionID, docID)
	f.sink.reset()

	f.handler.dispatch(sess, envelope(t, model.EventDocumentUpdate, model.DocumentUpdatePayload{
		DocumentID: docID.String(),
		Content:    "updated content",
	}))

	updated := f.sink.toSession(peer.sessionID, model.EventDocumentUpdated)
	require.Len(t, updated, 1)
	payload := updated[0].Event.Payload.(model.DocumentUpdatedPayload)
	assert.Equal(t, "updated content", payload.Content)
	assert.Equal(t, sess.userID.String(), payload.Metadata.UserID)
	assert.Empty(t, f.sink.toSession(sess.sessionID, model.EventError))
}

func TestOperationApplyRelaysToPeers(t *testing.T) {
	f := newHandlerFixture(t)
	peer := f.connect(t)
	sess := f.connect(t)

	docID := uuid.New()
	f.rooms.Join(peer.sessionID, docID)
	f.rooms.Join(sess.sessionID, docID)
	f.sink.reset()

	f.handler.dispatch(sess, envelope(t, model.EventOperationApply, model.OperationPayload{
		DocumentID: docID.String(),
		Operation:  json.RawMessage(`{"insert":"hi"}`),
	}))

	received := f.sink.toSession(peer.sessionID, model.EventOperationReceived)
	require.Len(t, received, 1)
	assert.Equal(t, sess.userID.String(), received[0].Event.Payload.(model.OperationReceivedPayload).UserID)
}

func TestStatusOverrideValidation(t *testing.T) {
	f := newHandlerFixture(t)
	sess := f.connect(t)

	f.handler.dispatch(sess, envelope(t, model.EventPresenceStatus, model.StatusOverridePayload{
		Status: model.PresenceAway,
	}))
	assert.Empty(t, f.sink.toSession(sess.sessionID, model.EventError))

	snapshot, ok := f.presence.Snapshot(sess.sessionID)
	require.True(t, ok)
	assert.Equal(t, model.PresenceAway, snapshot.Status)

	// OFFLINE cannot be pinned while connected.
	f.handler.dispatch(sess, envelope(t, model.EventPresenceStatus, model.StatusOverridePayload{
		Status: model.PresenceOffline,
	}))
	errs := f.sink.toSession(sess.sessionID, model.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, "invalid_payload", errs[0].Event.Payload.(model.ErrorPayload).Type)
}

func TestPingAnsweredWithPong(t *testing.T) {
	f := newHandlerFixture(t)
	sess := f.connect(t)

	f.handler.dispatch(sess, envelope(t, model.EventPing, nil))

	assert.Len(t, f.sink.toSession(sess.sessionID, model.EventPong), 1)
}

func TestDispatchTableCoversAllClientEvents(t *testing.T) {
	f := newHandlerFixture(t)

	for _, eventType := range []string{
		model.EventDocumentJoin,
		model.EventDocumentLeave,
		model.EventCursorUpdate,
		model.EventDocumentUpdate,
		model.EventOperationApply,
		model.EventPresenceStatus,
		model.EventPing,
	} {
		assert.Contains(t, f.handler.handlers, eventType, fmt.Sprintf("no handler registered for %s", eventType))
	}
}

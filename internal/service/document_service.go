package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sync-service/internal/metrics"
	"sync-service/internal/model"
)

var (
	// ErrEmptyUpdate rejects payloads carrying neither content nor an
	// operation. Rejection happens before any state is touched.
	ErrEmptyUpdate = errors.New("document update carries neither content nor operation")
	// ErrEmptyOperation rejects operation relays without an operation.
	ErrEmptyOperation = errors.New("operation payload is empty")
	// ErrInvalidDocument rejects updates without a document id.
	ErrInvalidDocument = errors.New("invalid document id")
)

// DocumentService applies content updates with last-writer-wins
// semantics. Every accepted update advances the version by exactly one,
// regardless of which version the author had observed; concurrent writers
// are never rejected, the broadcast lets peers reconcile. This is a
// deliberate simplification, not an operational-transform merge.
type DocumentService struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*docEntry

	rooms   *RoomService
	sink    EventSink
	redis   *redis.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// docEntry serializes all updates for one document; the version counter
// is the ordering witness. Broadcasting happens under the entry lock so
// peers observe updates in version order (delivery itself never blocks).
type docEntry struct {
	mu    sync.Mutex
	state model.DocumentState
}

func NewDocumentService(rooms *RoomService, sink EventSink, redisClient *redis.Client, logger *zap.Logger, m *metrics.Metrics) *DocumentService {
	return &DocumentService{
		entries: make(map[uuid.UUID]*docEntry),
		rooms:   rooms,
		sink:    sink,
		redis:   redisClient,
		logger:  logger,
		metrics: m,
	}
}

// ApplyUpdate accepts a full-content replacement or an incremental
// operation, advances the version, and fans the update out to the other
// room members.
func (s *DocumentService) ApplyUpdate(documentID, sessionID, userID uuid.UUID, content string, operation json.RawMessage) (model.DocumentState, error) {
	if documentID == uuid.Nil {
		return model.DocumentState{}, ErrInvalidDocument
	}
	if content == "" && len(operation) == 0 {
		return model.DocumentState{}, ErrEmptyUpdate
	}

	entry := s.entry(documentID)

	// Broadcast under the entry lock so members observe version order;
	// sink delivery never blocks. The redis publish is real I/O and
	// happens only after the lock is released.
	entry.mu.Lock()
	entry.state.Version++
	if content != "" {
		entry.state.Content = content
	}
	entry.state.LastModifiedBy = userID
	entry.state.LastModifiedAt = time.Now()
	state := entry.state

	event := model.NewEvent(model.EventDocumentUpdated, model.DocumentUpdatedPayload{
		DocumentID: documentID.String(),
		Operation:  operation,
		Content:    content,
		Metadata: model.UpdateMetadata{
			UserID:    userID.String(),
			Timestamp: state.LastModifiedAt,
			Version:   state.Version,
		},
	})
	for _, peer := range s.rooms.PeersOf(documentID, sessionID) {
		s.sink.SendToSession(peer, event)
	}
	entry.mu.Unlock()

	s.publish(documentID, event)

	if s.metrics != nil {
		s.metrics.DocumentUpdatesTotal.Inc()
	}

	return state, nil
}

// ApplyOperation relays an incremental operation without touching the
// cached content; peers apply it locally and the canonical content is
// reconciled through ApplyUpdate.
func (s *DocumentService) ApplyOperation(documentID, sessionID, userID uuid.UUID, operation json.RawMessage) error {
	if documentID == uuid.Nil {
		return ErrInvalidDocument
	}
	if len(operation) == 0 {
		return ErrEmptyOperation
	}

	entry := s.entry(documentID)

	// Operations share the document's ordering lock even though they do
	// not mutate state, so all members see one relay order. The redis
	// publish waits until the lock is released.
	entry.mu.Lock()
	event := model.NewEvent(model.EventOperationReceived, model.OperationReceivedPayload{
		Operation: operation,
		UserID:    userID.String(),
		Timestamp: time.Now(),
	})
	for _, peer := range s.rooms.PeersOf(documentID, sessionID) {
		s.sink.SendToSession(peer, event)
	}
	entry.mu.Unlock()

	s.publish(documentID, event)

	if s.metrics != nil {
		s.metrics.OperationsRelayedTotal.Inc()
	}

	return nil
}

// GetState returns the cached state, or an empty zero-version default for
// a document the hub has never seen. Never an error.
func (s *DocumentService) GetState(documentID uuid.UUID) model.DocumentState {
	s.mu.RLock()
	entry, ok := s.entries[documentID]
	s.mu.RUnlock()

	if !ok {
		return model.DocumentState{DocumentID: documentID}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state
}

// Count returns the number of cached document states.
func (s *DocumentService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Evict drops the cached state for a document. Called by the liveness
// sweeper once the room has been empty past the retention window.
func (s *DocumentService) Evict(documentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, documentID)
}

func (s *DocumentService) entry(documentID uuid.UUID) *docEntry {
	s.mu.RLock()
	entry, ok := s.entries[documentID]
	s.mu.RUnlock()
	if ok {
		return entry
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok = s.entries[documentID]; ok {
		return entry
	}
	entry = &docEntry{state: model.DocumentState{DocumentID: documentID}}
	s.entries[documentID] = entry
	return entry
}

func (s *DocumentService) publish(documentID uuid.UUID, event *model.Event) {
	if s.redis == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	channel := fmt.Sprintf("document:%s", documentID.String())
	if err := s.redis.Publish(context.Background(), channel, data).Err(); err != nil {
		s.logger.Error("Failed to publish document event",
			zap.String("documentId", documentID.String()),
			zap.Error(err))
	}
}

package websocket

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sync-service/internal/model"
)

func newTestHub() *Hub {
	return NewHub(zap.NewNop(), nil)
}

func waitForConnections(t *testing.T, h *Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ActiveConnections() == want
	}, time.Second, time.Millisecond)
}

func TestRegisterAndSendToSession(t *testing.T) {
	h := newTestHub()

	client := NewClient(uuid.New(), uuid.New(), nil, zap.NewNop())
	h.Register(client)
	waitForConnections(t, h, 1)

	h.SendToSession(client.SessionID, model.NewEvent(model.EventPong, nil))

	select {
	case raw := <-client.send:
		var event model.Event
		require.NoError(t, json.Unmarshal(raw, &event))
		assert.Equal(t, model.EventPong, event.Type)
	default:
		t.Fatal("expected a queued message")
	}
}

func TestSendToUnknownSessionIsDropped(t *testing.T) {
	h := newTestHub()

	// Must not panic or block.
	h.SendToSession(uuid.New(), model.NewEvent(model.EventPong, nil))
}

func TestSendToSlowClientDropsWithoutBlocking(t *testing.T) {
	h := newTestHub()

	client := NewClient(uuid.New(), uuid.New(), nil, zap.NewNop())
	h.Register(client)
	waitForConnections(t, h, 1)

	event := model.NewEvent(model.EventCursorUpdated, map[string]int{"position": 1})
	for i := 0; i < cap(client.send)+10; i++ {
		h.SendToSession(client.SessionID, event)
	}

	// Queue is full, the overflow was dropped, nothing deadlocked.
	assert.Len(t, client.send, cap(client.send))
}

func TestUnregisterClosesSendChannel(t *testing.T) {
	h := newTestHub()

	client := NewClient(uuid.New(), uuid.New(), nil, zap.NewNop())
	h.Register(client)
	waitForConnections(t, h, 1)

	h.Unregister(client)
	waitForConnections(t, h, 0)

	_, open := <-client.send
	assert.False(t, open)

	// Unregistering twice is safe.
	h.Unregister(client)
}

func TestReplacementConnectionSupersedesOld(t *testing.T) {
	h := newTestHub()

	sessionID := uuid.New()
	userID := uuid.New()
	old := NewClient(sessionID, userID, nil, zap.NewNop())
	h.Register(old)
	waitForConnections(t, h, 1)

	replacement := NewClient(sessionID, userID, nil, zap.NewNop())
	h.Register(replacement)

	require.Eventually(t, func() bool {
		select {
		case _, open := <-old.send:
			return !open
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	// A stale unregister from the old connection's pump must not evict
	// the replacement.
	h.Unregister(old)
	waitForConnections(t, h, 1)

	h.SendToSession(sessionID, model.NewEvent(model.EventPong, nil))
	assert.Eventually(t, func() bool {
		return len(replacement.send) == 1
	}, time.Second, time.Millisecond)
}

func TestConcurrentSendAndUnregisterIsPanicFree(t *testing.T) {
	h := newTestHub()
	event := model.NewEvent(model.EventCursorUpdated, map[string]int{"position": 1})

	for i := 0; i < 300; i++ {
		client := NewClient(uuid.New(), uuid.New(), nil, zap.NewNop())
		h.Register(client)

		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					h.SendToSession(client.SessionID, event)
				}
			}()
		}
		h.Unregister(client)
		wg.Wait()
	}
}

func TestConcurrentSendAndReconnectIsPanicFree(t *testing.T) {
	h := newTestHub()
	sessionID := uuid.New()
	userID := uuid.New()
	event := model.NewEvent(model.EventPong, nil)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					h.SendToSession(sessionID, event)
				}
			}
		}()
	}

	// Each replacement closes the superseded client's channel while the
	// senders keep broadcasting to the same session.
	for i := 0; i < 500; i++ {
		h.Register(NewClient(sessionID, userID, nil, zap.NewNop()))
	}
	close(stop)
	wg.Wait()
}

func TestEnqueueReportsBufferState(t *testing.T) {
	client := NewClient(uuid.New(), uuid.New(), nil, zap.NewNop())

	for i := 0; i < cap(client.send); i++ {
		assert.True(t, client.enqueue([]byte("m")))
	}
	assert.False(t, client.enqueue([]byte("overflow")))
}

package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sync-service/internal/model"
	"sync-service/internal/service"
)

func newPresenceTestRouter(t *testing.T) (*gin.Engine, *service.PresenceService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sink := &recordingSink{}
	presence := service.NewPresenceService(sink, nil, nil, zap.NewNop(), nil, time.Minute, 5*time.Minute)
	h := NewPresenceHandler(presence, zap.NewNop())

	r := gin.New()
	r.GET("/presence/online", h.GetOnlineSessions)
	r.GET("/presence/status/:userId", h.GetUserStatus)
	return r, presence
}

func TestGetOnlineSessions(t *testing.T) {
	r, presence := newPresenceTestRouter(t)

	presence.Register(&model.Session{SessionID: uuid.New(), UserID: uuid.New()})
	presence.Register(&model.Session{SessionID: uuid.New(), UserID: uuid.New()})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/presence/online", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Sessions []model.SessionSnapshot `json:"sessions"`
		Count    int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Len(t, body.Sessions, 2)
}

func TestGetUserStatusKnownUser(t *testing.T) {
	r, presence := newPresenceTestRouter(t)

	userID := uuid.New()
	presence.Register(&model.Session{SessionID: uuid.New(), UserID: userID})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/presence/status/%s", userID), nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		UserID string               `json:"userId"`
		Status model.PresenceStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, userID.String(), body.UserID)
	assert.Equal(t, model.PresenceActive, body.Status)
}

func TestGetUserStatusUnknownUserIsOffline(t *testing.T) {
	r, _ := newPresenceTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/presence/status/%s", uuid.New()), nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status model.PresenceStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, model.PresenceOffline, body.Status)
}

func TestGetUserStatusBadID(t *testing.T) {
	r, _ := newPresenceTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/presence/status/not-a-uuid", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

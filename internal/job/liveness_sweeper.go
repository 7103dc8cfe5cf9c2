package job

import (
	"time"

	"go.uber.org/zap"

	"sync-service/internal/metrics"
	"sync-service/internal/repository"
	"sync-service/internal/service"
)

// LivenessSweeper evicts sessions that stopped heartbeating and reclaims
// document state for rooms that stayed empty past the retention window.
// It is the only component allowed to remove sessions the client did not
// explicitly disconnect.
type LivenessSweeper struct {
	presence  *service.PresenceService
	rooms     *service.RoomService
	documents *service.DocumentService
	repo      *repository.PresenceRepository

	sessionTimeout    time.Duration
	documentRetention time.Duration

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLivenessSweeper(
	presence *service.PresenceService,
	rooms *service.RoomService,
	documents *service.DocumentService,
	repo *repository.PresenceRepository,
	sessionTimeout, documentRetention time.Duration,
	logger *zap.Logger,
	m *metrics.Metrics,
) *LivenessSweeper {
	return &LivenessSweeper{
		presence:          presence,
		rooms:             rooms,
		documents:         documents,
		repo:              repo,
		sessionTimeout:    sessionTimeout,
		documentRetention: documentRetention,
		logger:            logger,
		metrics:           m,
	}
}

// Run executes one sweep. Eviction is keyed by sessionId, so a user who
// reconnected with a fresh session mid-sweep only loses the stale one.
// The signature satisfies cron.Job.
func (j *LivenessSweeper) Run() {
	expired := j.presence.ExpiredSessions(j.sessionTimeout)
	for _, sessionID := range expired {
		// Unregister detaches the session from its room and removes
		// its cursor records through the shared cleanup path.
		j.presence.Unregister(sessionID)

		if j.metrics != nil {
			j.metrics.SessionsEvictedTotal.Inc()
		}
		j.logger.Info("Evicted stale session",
			zap.String("sessionId", sessionID.String()))
	}

	dormant := j.rooms.DormantRooms(j.documentRetention)
	for _, documentID := range dormant {
		j.documents.Evict(documentID)
		j.rooms.Forget(documentID)
		j.logger.Info("Evicted dormant document state",
			zap.String("documentId", documentID.String()))
	}

	if j.repo != nil {
		cutoff := time.Now().Add(-2 * j.sessionTimeout)
		if removed, err := j.repo.DeleteStale(cutoff); err != nil {
			j.logger.Error("Failed to prune stale presence rows", zap.Error(err))
		} else if removed > 0 {
			j.logger.Debug("Pruned stale presence rows", zap.Int64("count", removed))
		}
	}

	if len(expired) > 0 || len(dormant) > 0 {
		j.logger.Info("Liveness sweep completed",
			zap.Int("evicted_sessions", len(expired)),
			zap.Int("evicted_documents", len(dormant)))
	}
}

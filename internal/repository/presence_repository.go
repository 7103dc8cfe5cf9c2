package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sync-service/internal/model"
)

// PresenceRepository mirrors session presence into the database. The
// in-memory registry is authoritative; rows here feed operational queries
// that outlive a hub instance.
type PresenceRepository struct {
	conn func() *gorm.DB
}

func NewPresenceRepository(db *gorm.DB) *PresenceRepository {
	return &PresenceRepository{conn: func() *gorm.DB { return db }}
}

// NewDeferredPresenceRepository resolves the connection on every call, so
// write-through activates as soon as a background reconnect succeeds.
// While the provider returns nil the writes are skipped.
func NewDeferredPresenceRepository(conn func() *gorm.DB) *PresenceRepository {
	return &PresenceRepository{conn: conn}
}

func (r *PresenceRepository) SetStatus(sessionID, userID uuid.UUID, status model.PresenceStatus) error {
	db := r.conn()
	if db == nil {
		return nil
	}

	presence := &model.SessionPresence{
		SessionID: sessionID,
		UserID:    userID,
		Status:    status,
		LastSeen:  time.Now(),
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "last_seen", "user_id"}),
	}).Create(presence).Error
}

func (r *PresenceRepository) SetOffline(sessionID uuid.UUID) error {
	db := r.conn()
	if db == nil {
		return nil
	}

	return db.Model(&model.SessionPresence{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"status":    model.PresenceOffline,
			"last_seen": time.Now(),
		}).Error
}

func (r *PresenceRepository) GetSession(sessionID uuid.UUID) (*model.SessionPresence, error) {
	db := r.conn()
	if db == nil {
		return nil, gorm.ErrRecordNotFound
	}

	var presence model.SessionPresence
	err := db.First(&presence, "session_id = ?", sessionID).Error
	if err != nil {
		return nil, err
	}
	return &presence, nil
}

func (r *PresenceRepository) GetOnlineSessions() ([]model.SessionPresence, error) {
	db := r.conn()
	if db == nil {
		return nil, nil
	}

	var presences []model.SessionPresence
	err := db.Where("status <> ?", model.PresenceOffline).Find(&presences).Error
	return presences, err
}

// DeleteStale removes rows whose last_seen is older than the cutoff. Run
// by the liveness sweeper so evicted sessions do not accumulate.
func (r *PresenceRepository) DeleteStale(cutoff time.Time) (int64, error) {
	db := r.conn()
	if db == nil {
		return 0, nil
	}

	res := db.Where("last_seen < ?", cutoff).Delete(&model.SessionPresence{})
	return res.RowsAffected, res.Error
}

package postgres

import (
	"context"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EventRepository interface {
	Insert(ctx context.Context, ev *models.SessionEvent) error
	ListBySession(ctx context.Context, ownerID, sessionID string, limit int) ([]models.SessionEvent, error)
}

type eventRepo struct {
	db *gorm.DB
}

func NewEventRepo(db *gorm.DB) EventRepository {
	return &eventRepo{db: db}
}

// Migrate creates or updates the session_events table.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&models.SessionEvent{})
}

// Insert ignores a row whose id already exists, so a redelivered entry is
// a no-op.
func (r *eventRepo) Insert(ctx context.Context, ev *models.SessionEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(ev).Error
}

func (r *eventRepo) ListBySession(ctx context.Context, ownerID, sessionID string, limit int) ([]models.SessionEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []models.SessionEvent
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND session_id = ?", ownerID, sessionID).
		Order("occurred_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/opbuddy121/fibre-joint-app/internal/models"
	pgrepo "github.com/opbuddy121/fibre-joint-app/internal/repositories/postgres"
	"github.com/opbuddy121/fibre-joint-app/internal/utils"
)

// Journal records lifecycle transitions. Writes are best-effort from the
// engine's point of view.
type Journal interface {
	Record(ctx context.Context, ev *models.SessionEvent) error
	ListBySession(ctx context.Context, ownerID, sessionID string) ([]models.SessionEvent, error)
}

type journalService struct {
	events pgrepo.EventRepository
}

func NewJournalService(events pgrepo.EventRepository) Journal {
	return &journalService{events: events}
}

func (s *journalService) Record(ctx context.Context, ev *models.SessionEvent) error {
	const op = "Journal.Record"

	if ev == nil || ev.SessionID == "" || ev.OwnerID == "" || ev.Kind == "" {
		return utils.E(utils.CodeInvalidArgument, op, "session_id, owner_id and kind are required", nil)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if err := s.events.Insert(ctx, ev); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to record session event", err)
	}
	return nil
}

func (s *journalService) ListBySession(ctx context.Context, ownerID, sessionID string) ([]models.SessionEvent, error) {
	const op = "Journal.ListBySession"

	if ownerID == "" || sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "owner_id and session_id are required", nil)
	}
	rows, err := s.events.ListBySession(ctx, ownerID, sessionID, 0)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list session events", err)
	}
	return rows, nil
}

// NopJournal is used when no journal database is configured.
type NopJournal struct{}

func (NopJournal) Record(context.Context, *models.SessionEvent) error { return nil }

func (NopJournal) ListBySession(context.Context, string, string) ([]models.SessionEvent, error) {
	return []models.SessionEvent{}, nil
}

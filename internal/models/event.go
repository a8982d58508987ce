package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type EventKind string

const (
	EventCheckIn  EventKind = "check_in"
	EventCheckOut EventKind = "check_out"
	EventCancel   EventKind = "cancel"
)

// SessionEvent is one row of the transition journal.
type SessionEvent struct {
	ID         string         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SessionID  string         `gorm:"column:session_id;type:text;index" json:"session_id"`
	OwnerID    string         `gorm:"column:owner_id;type:text;index" json:"owner_id"`
	Kind       EventKind      `gorm:"column:kind;type:text" json:"kind"`
	Status     SessionStatus  `gorm:"column:status;type:text" json:"status"`
	OccurredAt time.Time      `gorm:"column:occurred_at;type:timestamptz;index" json:"occurred_at"`
	PhotoURLs  pq.StringArray `gorm:"column:photo_urls;type:text[]" json:"photo_urls"`
	Details    datatypes.JSON `gorm:"column:details;type:jsonb" json:"details"`
}

func (SessionEvent) TableName() string { return "session_events" }

package repositories

import (
	"context"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
)

// SnapshotFunc receives the complete current result set of a subscription.
// Each call supersedes the previous one; there are no deltas.
type SnapshotFunc func(sessions []models.Session)

type Subscription interface {
	Close() error
}

// SessionRepository is the document store behind the lifecycle engine.
// Complete and Cancel only apply to a session that is still active and
// return utils.ErrStatusMismatch otherwise. Subscribe calls onError at most
// once, when the subscription has ended and will deliver nothing more.
type SessionRepository interface {
	Create(ctx context.Context, s *models.Session) (string, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Complete(ctx context.Context, id string, c models.Completion) error
	Cancel(ctx context.Context, id string, c models.Cancellation) error
	ListByOwner(ctx context.Context, ownerID string) ([]models.Session, error)
	Subscribe(ctx context.Context, ownerID string, onSnapshot SnapshotFunc, onError func(error)) (Subscription, error)
}

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
	"github.com/opbuddy121/fibre-joint-app/internal/repositories"
	"github.com/opbuddy121/fibre-joint-app/internal/utils"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionRepo is an in-process session store. Subscribers are re-sent the
// owner's full result set after every write, synchronously on the writer's
// goroutine. Deliveries are serialized and each carries the state as of its
// own read, so a subscriber never sees an older snapshot after a newer one.
// Callbacks must not write to the repo.
type SessionRepo struct {
	deliver sync.Mutex // held from snapshot read through delivery; taken before mu

	mu     sync.Mutex
	docs   map[string]models.Session
	order  []string
	subs   map[string]map[int]repositories.SnapshotFunc
	nextID int
}

func NewSessionRepo() *SessionRepo {
	return &SessionRepo{
		docs: map[string]models.Session{},
		subs: map[string]map[int]repositories.SnapshotFunc{},
	}
}

var _ repositories.SessionRepository = (*SessionRepo)(nil)

func (r *SessionRepo) Create(ctx context.Context, s *models.Session) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.ID = primitive.NewObjectID()
	id := s.ID.Hex()

	r.mu.Lock()
	r.docs[id] = clone(*s)
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.notify(s.EngineerID)
	return id, nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.docs[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	out := clone(s)
	return &out, nil
}

func (r *SessionRepo) Complete(ctx context.Context, id string, c models.Completion) error {
	return r.updateActive(ctx, id, func(s models.Session) models.Session {
		return s.ApplyCompletion(c)
	})
}

func (r *SessionRepo) Cancel(ctx context.Context, id string, c models.Cancellation) error {
	return r.updateActive(ctx, id, func(s models.Session) models.Session {
		return s.ApplyCancellation(c)
	})
}

func (r *SessionRepo) updateActive(ctx context.Context, id string, apply func(models.Session) models.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	s, ok := r.docs[id]
	if !ok {
		r.mu.Unlock()
		return utils.ErrNotFound
	}
	if s.Status != models.StatusActive {
		r.mu.Unlock()
		return utils.ErrStatusMismatch
	}
	r.docs[id] = clone(apply(s))
	r.mu.Unlock()

	r.notify(s.EngineerID)
	return nil
}

func (r *SessionRepo) ListByOwner(ctx context.Context, ownerID string) ([]models.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(ownerID), nil
}

func (r *SessionRepo) listLocked(ownerID string) []models.Session {
	out := []models.Session{}
	for _, id := range r.order {
		if s := r.docs[id]; s.EngineerID == ownerID {
			out = append(out, clone(s))
		}
	}
	return out
}

func (r *SessionRepo) Subscribe(ctx context.Context, ownerID string, onSnapshot repositories.SnapshotFunc, _ func(error)) (repositories.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	r.nextID++
	key := r.nextID
	if r.subs[ownerID] == nil {
		r.subs[ownerID] = map[int]repositories.SnapshotFunc{}
	}
	r.subs[ownerID][key] = onSnapshot
	initial := r.listLocked(ownerID)
	r.mu.Unlock()

	onSnapshot(initial)
	return &subscription{repo: r, owner: ownerID, key: key}, nil
}

// Subscribers returns how many live subscriptions ownerID has.
func (r *SessionRepo) Subscribers(ownerID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[ownerID])
}

func (r *SessionRepo) notify(ownerID string) {
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	fns := make([]repositories.SnapshotFunc, 0, len(r.subs[ownerID]))
	for _, fn := range r.subs[ownerID] {
		fns = append(fns, fn)
	}
	list := r.listLocked(ownerID)
	r.mu.Unlock()

	for _, fn := range fns {
		fn(list)
	}
}

type subscription struct {
	repo  *SessionRepo
	owner string
	key   int
}

func (s *subscription) Close() error {
	s.repo.mu.Lock()
	defer s.repo.mu.Unlock()
	delete(s.repo.subs[s.owner], s.key)
	if len(s.repo.subs[s.owner]) == 0 {
		delete(s.repo.subs, s.owner)
	}
	return nil
}

func clone(s models.Session) models.Session {
	if s.Photos != nil {
		s.Photos = append([]models.Photo{}, s.Photos...)
	}
	return s
}

package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
	"github.com/opbuddy121/fibre-joint-app/internal/repositories"
	"github.com/opbuddy121/fibre-joint-app/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const SessionsCollection = "sessions"

type sessionRepo struct {
	col *mongo.Collection
}

func NewSessionRepo(db *mongo.Database) repositories.SessionRepository {
	return &sessionRepo{col: db.Collection(SessionsCollection)}
}

func (r *sessionRepo) Create(ctx context.Context, s *models.Session) (string, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	res, err := r.col.InsertOne(ctx, s)
	if err != nil {
		return "", err
	}
	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return "", errors.New("unexpected inserted id type")
	}
	s.ID = oid
	return oid.Hex(), nil
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*models.Session, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, utils.ErrNotFound
	}
	var s models.Session
	err = r.col.FindOne(ctx, bson.M{"_id": oid}).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, utils.ErrNotFound
	}
	return &s, err
}

func (r *sessionRepo) Complete(ctx context.Context, id string, c models.Completion) error {
	photos := c.Photos
	if photos == nil {
		photos = []models.Photo{}
	}
	end := c.EndTime.UTC()
	return r.updateActive(ctx, id, bson.M{
		"status":          models.StatusCompleted,
		"endTime":         end,
		"completedAt":     end,
		"duration":        c.Duration,
		"completionNotes": c.CompletionNotes,
		"jointRating":     c.JointRating,
		"workQuality":     c.WorkQuality,
		"photos":          photos,
	})
}

func (r *sessionRepo) Cancel(ctx context.Context, id string, c models.Cancellation) error {
	at := c.CancelledAt.UTC()
	return r.updateActive(ctx, id, bson.M{
		"status":             models.StatusCancelled,
		"cancelledAt":        at,
		"endTime":            at,
		"duration":           c.Duration,
		"cancellationReason": c.CancellationReason,
		"cancelledBy":        c.CancelledBy,
	})
}

// updateActive applies set only while the document is still active.
func (r *sessionRepo) updateActive(ctx context.Context, id string, set bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return utils.ErrNotFound
	}
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": oid, "status": models.StatusActive},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := r.col.CountDocuments(ctx, bson.M{"_id": oid})
		if err != nil {
			return err
		}
		if n == 0 {
			return utils.ErrNotFound
		}
		return utils.ErrStatusMismatch
	}
	return nil
}

func (r *sessionRepo) ListByOwner(ctx context.Context, ownerID string) ([]models.Session, error) {
	cur, err := r.col.Find(ctx,
		bson.M{"engineerId": ownerID},
		options.Find().SetSort(bson.D{{Key: "startTime", Value: -1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []models.Session{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

const (
	maxWatchRetries = 5
	watchBackoff    = time.Second
)

// Subscribe watches the collection for changes to ownerID's sessions and
// re-reads the full result set on every event. The first snapshot is
// delivered before Subscribe returns. Requires a replica set.
//
// A broken stream is reopened from its resume token, with a fresh snapshot
// after each reopen. onError is called once, and only after
// maxWatchRetries consecutive failures; nothing is delivered after it.
func (r *sessionRepo) Subscribe(ctx context.Context, ownerID string, onSnapshot repositories.SnapshotFunc, onError func(error)) (repositories.Subscription, error) {
	if onError == nil {
		onError = func(error) {}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"fullDocument.engineerId": ownerID}}},
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	stream, err := r.col.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, err
	}

	initial, err := r.ListByOwner(ctx, ownerID)
	if err != nil {
		cancel()
		_ = stream.Close(context.Background())
		return nil, err
	}
	onSnapshot(initial)

	sub := &changeSubscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		r.watch(watchCtx, stream, pipeline, ownerID, onSnapshot, onError)
	}()
	return sub, nil
}

func (r *sessionRepo) watch(ctx context.Context, stream *mongo.ChangeStream, pipeline mongo.Pipeline, ownerID string, onSnapshot repositories.SnapshotFunc, onError func(error)) {
	var (
		resume   bson.Raw
		lastErr  error
		failures int
	)
	for {
		if stream != nil {
			for stream.Next(ctx) {
				failures = 0
				// a failed re-read is covered by the next event or reopen
				if list, err := r.ListByOwner(ctx, ownerID); err == nil {
					onSnapshot(list)
				}
			}
			lastErr = stream.Err()
			if tok := stream.ResumeToken(); tok != nil {
				resume = tok
			}
			_ = stream.Close(context.Background())
			stream = nil
		}
		if ctx.Err() != nil {
			return
		}

		failures++
		if failures > maxWatchRetries {
			if lastErr == nil {
				lastErr = errors.New("change stream closed")
			}
			onError(fmt.Errorf("watch sessions of %s: gave up after %d retries: %w", ownerID, maxWatchRetries, lastErr))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(watchBackoff * time.Duration(failures)):
		}

		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		if resume != nil {
			opts.SetResumeAfter(resume)
		}
		next, err := r.col.Watch(ctx, pipeline, opts)
		if err != nil {
			// the token may have fallen off the oplog; start fresh next time
			lastErr, resume = err, nil
			continue
		}
		stream = next

		list, err := r.ListByOwner(ctx, ownerID)
		if err == nil {
			onSnapshot(list)
		}
	}
}

type changeSubscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *changeSubscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

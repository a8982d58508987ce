package workers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
	"github.com/opbuddy121/fibre-joint-app/internal/services"
	"github.com/opbuddy121/fibre-joint-app/internal/utils"
)

const (
	DefaultJournalStream = "journal:stream"
	DefaultJournalGroup  = "journal-writers"

	streamMaxLen = 100000
)

// StreamJournal is the engine-facing journal when Redis is available: Record
// appends to a stream and returns, and JournalRelay drains it into Store.
// Reads go straight to Store.
type StreamJournal struct {
	Redis  *redis.Client
	Stream string
	Store  services.Journal
	Logger *logrus.Logger
}

func NewStreamJournal(rdb *redis.Client, stream string, store services.Journal, l *logrus.Logger) *StreamJournal {
	if stream == "" {
		stream = DefaultJournalStream
	}
	if l == nil {
		l = logrus.New()
	}
	return &StreamJournal{Redis: rdb, Stream: stream, Store: store, Logger: l}
}

func (j *StreamJournal) Record(ctx context.Context, ev *models.SessionEvent) error {
	if ev == nil {
		return errors.New("nil event")
	}
	// stamp here so a redelivered message inserts the same row
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = j.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: j.Stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event":      string(raw),
			"session_id": ev.SessionID,
			"kind":       string(ev.Kind),
		},
	}).Err()
	if err == nil {
		return nil
	}

	j.Logger.WithError(err).WithField("session_id", ev.SessionID).Warn("journal stream unavailable, writing directly")
	return j.Store.Record(ctx, ev)
}

func (j *StreamJournal) ListBySession(ctx context.Context, ownerID, sessionID string) ([]models.SessionEvent, error) {
	return j.Store.ListBySession(ctx, ownerID, sessionID)
}

// StreamClient is the part of *redis.Client the relay uses.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// JournalRelay is a consumer group that moves journal entries from the
// Redis stream into the durable store. Entries whose insert fails stay
// pending and are claimed again once they have been idle for ClaimIdle.
type JournalRelay struct {
	Redis      StreamClient
	Store      services.Journal
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string

	// RetryEvery is how often each consumer looks for stuck entries.
	RetryEvery time.Duration
	ClaimIdle  time.Duration
	Block      time.Duration

	wg sync.WaitGroup
}

func (p *JournalRelay) Start(ctx context.Context) error {
	if p.Redis == nil || p.Store == nil {
		return errors.New("JournalRelay missing dependency: Redis/Store must be set")
	}
	if p.Stream == "" {
		p.Stream = DefaultJournalStream
	}
	if p.Group == "" {
		p.Group = DefaultJournalGroup
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "c"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.RetryEvery <= 0 {
		p.RetryEvery = 30 * time.Second
	}
	if p.ClaimIdle <= 0 {
		p.ClaimIdle = time.Minute
	}
	if p.Block <= 0 {
		p.Block = 5 * time.Second
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	_ = p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err() // ignore BUSYGROUP

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runConsumer(ctx, consumer)
		}()
	}
	return nil
}

// Wait blocks until every consumer has returned after ctx is cancelled.
func (p *JournalRelay) Wait() { p.wg.Wait() }

func (p *JournalRelay) runConsumer(ctx context.Context, consumer string) {
	// entries this consumer held when the process last stopped
	p.drainPending(ctx, consumer)

	retry := time.NewTicker(p.RetryEvery)
	defer retry.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-retry.C:
			p.reclaim(ctx, consumer)
		default:
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    20,
			Block:    p.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Warn("journal read failed")
			select {
			case <-ctx.Done():
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		for _, stream := range res {
			p.process(ctx, stream.Messages)
		}
	}
}

// drainPending makes one pass over the consumer's own pending list.
func (p *JournalRelay) drainPending(ctx context.Context, consumer string) {
	cursor := "0"
	for ctx.Err() == nil {
		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, cursor},
			Count:    100,
			Block:    -1,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				p.Logger.WithError(err).WithField("consumer", consumer).Warn("journal pending read failed")
			}
			return
		}

		var last string
		for _, stream := range res {
			p.process(ctx, stream.Messages)
			if n := len(stream.Messages); n > 0 {
				last = stream.Messages[n-1].ID
			}
		}
		if last == "" {
			return
		}
		cursor = last
	}
}

// reclaim takes over entries from any consumer, this one included, that
// have sat unacknowledged for ClaimIdle and retries them.
func (p *JournalRelay) reclaim(ctx context.Context, consumer string) {
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := p.Redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   p.Stream,
			Group:    p.Group,
			MinIdle:  p.ClaimIdle,
			Start:    start,
			Count:    50,
			Consumer: consumer,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				p.Logger.WithError(err).WithField("consumer", consumer).Warn("journal reclaim failed")
			}
			return
		}
		if len(msgs) > 0 {
			p.Logger.WithFields(logrus.Fields{
				"consumer": consumer,
				"count":    len(msgs),
			}).Info("retrying pending journal entries")
		}
		p.process(ctx, msgs)
		if next == "" || next == "0-0" {
			return
		}
		start = next
	}
}

func (p *JournalRelay) process(ctx context.Context, msgs []redis.XMessage) {
	for _, msg := range msgs {
		if p.handleMsg(ctx, msg) {
			_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
		}
	}
}

// handleMsg reports whether msg is done with: stored, or unreadable and
// dropped. Store failures stay pending and are picked up by reclaim.
func (p *JournalRelay) handleMsg(ctx context.Context, msg redis.XMessage) bool {
	log := p.Logger.WithField("redis_id", msg.ID)

	raw, _ := msg.Values["event"].(string)
	if raw == "" {
		log.Warn("journal message without event payload dropped")
		return true
	}

	var ev models.SessionEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		log.WithError(err).Warn("journal message undecodable, dropped")
		return true
	}

	log = log.WithFields(logrus.Fields{
		"session_id": ev.SessionID,
		"kind":       ev.Kind,
	})
	if err := p.Store.Record(ctx, &ev); err != nil {
		if utils.IsValidation(err) {
			log.WithError(err).Warn("journal entry rejected, dropped")
			return true
		}
		log.WithError(err).Error("journal insert failed")
		return false
	}
	return true
}

package workers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
	"github.com/opbuddy121/fibre-joint-app/internal/utils"
)

type recordingJournal struct {
	mu       sync.Mutex
	events   []models.SessionEvent
	err      error
	failNext int // fail this many calls before succeeding
}

func (j *recordingJournal) Record(_ context.Context, ev *models.SessionEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	if j.failNext > 0 {
		j.failNext--
		return errors.New("connection reset")
	}
	j.events = append(j.events, *ev)
	return nil
}

func (j *recordingJournal) ListBySession(context.Context, string, string) ([]models.SessionEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]models.SessionEvent(nil), j.events...), nil
}

func (j *recordingJournal) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.events)
}

// fakeStream keeps undelivered entries and a pending list the way a
// consumer group does.
type fakeStream struct {
	mu      sync.Mutex
	queue   []redis.XMessage
	pending map[string]redis.XMessage
	acked   []string
}

func newFakeStream(queued ...redis.XMessage) *fakeStream {
	return &fakeStream{queue: queued, pending: map[string]redis.XMessage{}}
}

func (f *fakeStream) XGroupCreateMkStream(context.Context, string, string, string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	if a.Streams[1] != ">" {
		msgs := f.pendingAfter(a.Streams[1])
		f.mu.Unlock()
		return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: a.Streams[0], Messages: msgs}}, nil)
	}
	if len(f.queue) == 0 {
		f.mu.Unlock()
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Millisecond):
		}
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
	msgs := f.queue
	f.queue = nil
	for _, m := range msgs {
		f.pending[m.ID] = m
	}
	f.mu.Unlock()
	return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: a.Streams[0], Messages: msgs}}, nil)
}

func (f *fakeStream) XAutoClaim(ctx context.Context, _ *redis.XAutoClaimArgs) *redis.XAutoClaimCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewXAutoClaimCmd(ctx)
	cmd.SetVal(f.pendingAfter("0"), "0-0")
	return cmd
}

func (f *fakeStream) XAck(_ context.Context, _, _ string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.pending, id)
		f.acked = append(f.acked, id)
	}
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStream) pendingAfter(cursor string) []redis.XMessage {
	out := []redis.XMessage{}
	for id, m := range f.pending {
		if cursor == "0" || id > cursor {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (f *fakeStream) state() (pending int, acked []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending), append([]string(nil), f.acked...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func eventMessage(t *testing.T, ev models.SessionEvent) redis.XMessage {
	t.Helper()
	return eventMessageWithID(t, "1-0", ev)
}

func eventMessageWithID(t *testing.T, id string, ev models.SessionEvent) redis.XMessage {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]any{"event": string(raw)}}
}

func TestHandleMsgStoresEvent(t *testing.T) {
	store := &recordingJournal{}
	relay := &JournalRelay{Store: store, Logger: quietLogger()}

	ev := models.SessionEvent{
		ID:         "7f6d2c1e-0000-4000-8000-000000000001",
		SessionID:  "s-1",
		OwnerID:    "eng-1",
		Kind:       models.EventCheckIn,
		Status:     models.StatusActive,
		OccurredAt: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC),
	}
	assert.True(t, relay.handleMsg(context.Background(), eventMessage(t, ev)))

	require.Len(t, store.events, 1)
	assert.Equal(t, ev.ID, store.events[0].ID)
	assert.Equal(t, models.EventCheckIn, store.events[0].Kind)
	assert.True(t, ev.OccurredAt.Equal(store.events[0].OccurredAt))
}

func TestHandleMsgDropsGarbage(t *testing.T) {
	store := &recordingJournal{}
	relay := &JournalRelay{Store: store, Logger: quietLogger()}

	assert.True(t, relay.handleMsg(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]any{}}))
	assert.True(t, relay.handleMsg(context.Background(), redis.XMessage{ID: "2-0", Values: map[string]any{"event": "{not json"}}))
	assert.Empty(t, store.events)
}

func TestHandleMsgLeavesFailuresPending(t *testing.T) {
	relay := &JournalRelay{Store: &recordingJournal{err: errors.New("db down")}, Logger: quietLogger()}
	assert.False(t, relay.handleMsg(context.Background(), eventMessage(t, models.SessionEvent{SessionID: "s-1", OwnerID: "eng-1", Kind: models.EventCancel})))
}

func TestHandleMsgDropsRejectedEvent(t *testing.T) {
	store := &recordingJournal{err: utils.E(utils.CodeInvalidArgument, "Journal.Record", "kind is required", nil)}
	relay := &JournalRelay{Store: store, Logger: quietLogger()}
	assert.True(t, relay.handleMsg(context.Background(), eventMessage(t, models.SessionEvent{SessionID: "s-1"})))
}

func TestRelayRetriesFailedInsert(t *testing.T) {
	msg := eventMessageWithID(t, "1-0", models.SessionEvent{ID: "ev-1", SessionID: "s-1", OwnerID: "eng-1", Kind: models.EventCheckOut})
	stream := newFakeStream(msg)
	store := &recordingJournal{failNext: 1}

	relay := &JournalRelay{
		Redis:      stream,
		Store:      store,
		NumWorkers: 1,
		Logger:     quietLogger(),
		RetryEvery: 10 * time.Millisecond,
		ClaimIdle:  time.Millisecond,
		Block:      5 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, relay.Start(ctx))
	t.Cleanup(func() {
		cancel()
		relay.Wait()
	})

	require.Eventually(t, func() bool { return store.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	events, err := store.ListBySession(context.Background(), "eng-1", "s-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", events[0].ID)

	require.Eventually(t, func() bool {
		pending, _ := stream.state()
		return pending == 0
	}, time.Second, 5*time.Millisecond)
	_, acked := stream.state()
	assert.Equal(t, []string{"1-0"}, acked)
}

func TestDrainPendingReplaysOwnEntries(t *testing.T) {
	stream := newFakeStream()
	for i, id := range []string{"1-0", "2-0"} {
		stream.pending[id] = eventMessageWithID(t, id, models.SessionEvent{
			ID:        "ev-" + id,
			SessionID: "s-1",
			OwnerID:   "eng-1",
			Kind:      []models.EventKind{models.EventCheckIn, models.EventCancel}[i],
		})
	}
	store := &recordingJournal{}
	relay := &JournalRelay{Redis: stream, Store: store, Logger: quietLogger(), Stream: DefaultJournalStream, Group: DefaultJournalGroup}

	relay.drainPending(context.Background(), "c-1")

	assert.Equal(t, 2, store.count())
	pending, acked := stream.state()
	assert.Zero(t, pending)
	assert.Equal(t, []string{"1-0", "2-0"}, acked)
}

func TestDrainPendingStopsWhenStoreIsDown(t *testing.T) {
	stream := newFakeStream()
	stream.pending["1-0"] = eventMessageWithID(t, "1-0", models.SessionEvent{SessionID: "s-1", OwnerID: "eng-1", Kind: models.EventCheckIn})
	relay := &JournalRelay{Redis: stream, Store: &recordingJournal{err: errors.New("db down")}, Logger: quietLogger()}

	relay.drainPending(context.Background(), "c-1")

	pending, acked := stream.state()
	assert.Equal(t, 1, pending, "left for a later reclaim")
	assert.Empty(t, acked)
}

func TestStartRequiresDependencies(t *testing.T) {
	relay := &JournalRelay{}
	assert.Error(t, relay.Start(context.Background()))
}

func TestStreamJournalFallsBackToStore(t *testing.T) {
	// nothing listens on port 1
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })

	store := &recordingJournal{}
	j := NewStreamJournal(rdb, "", store, quietLogger())

	ev := &models.SessionEvent{SessionID: "s-1", OwnerID: "eng-1", Kind: models.EventCheckOut}
	require.NoError(t, j.Record(context.Background(), ev))

	require.Len(t, store.events, 1)
	assert.NotEmpty(t, store.events[0].ID, "id is stamped before enqueue")
	assert.False(t, store.events[0].OccurredAt.IsZero())

	list, err := j.ListBySession(context.Background(), "eng-1", "s-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

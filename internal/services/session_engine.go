package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/opbuddy121/fibre-joint-app/internal/models"
	"github.com/opbuddy121/fibre-joint-app/internal/providers/geo"
	"github.com/opbuddy121/fibre-joint-app/internal/providers/postcode"
	"github.com/opbuddy121/fibre-joint-app/internal/repositories"
	"github.com/opbuddy121/fibre-joint-app/internal/storage"
	"github.com/opbuddy121/fibre-joint-app/internal/utils"
)

// EngineDeps are the collaborators shared by every user's engine.
type EngineDeps struct {
	Sessions  repositories.SessionRepository
	Uploader  storage.Uploader
	Postcodes postcode.Provider
	Journal   Journal
	Logger    *logrus.Logger
	Now       func() time.Time
}

type CheckInInput struct {
	JointID         string
	WorkDescription string
	Location        *geo.Reading
}

type PhotoUpload struct {
	FileName    string
	ContentType string
	Body        io.Reader
}

type CheckOutInput struct {
	CompletionNotes string
	JointRating     int
	WorkQuality     models.WorkQuality
	Photos          []PhotoUpload
}

const (
	defaultJointRating = 5
	defaultWorkQuality = models.QualityGood
)

// Engine holds the live view of one engineer's sessions and issues the
// check-in, check-out and cancel transitions against the store. The view is
// rebuilt from scratch on every snapshot the store pushes.
type Engine struct {
	id   models.Identity
	deps EngineDeps
	log  *logrus.Entry

	mu        sync.RWMutex
	sessions  map[string]models.Session
	view      View
	ready     bool
	closed    bool
	err       error // why the engine stopped on its own, if it did
	done      chan struct{}
	sub       repositories.Subscription
	listeners map[int]func(View)
	nextKey   int
}

func NewEngine(id models.Identity, deps EngineDeps) *Engine {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Postcodes == nil {
		deps.Postcodes = postcode.None{}
	}
	if deps.Journal == nil {
		deps.Journal = NopJournal{}
	}
	return &Engine{
		id:        id,
		deps:      deps,
		log:       deps.Logger.WithField("owner_id", id.OwnerID),
		sessions:  map[string]models.Session{},
		view:      View{Active: []models.Session{}, History: []models.Session{}},
		done:      make(chan struct{}),
		listeners: map[int]func(View){},
	}
}

func (e *Engine) Identity() models.Identity { return e.id }

// Start subscribes to the owner's sessions. The store delivers the first
// snapshot before Start returns.
func (e *Engine) Start(ctx context.Context) error {
	const op = "Engine.Start"

	if e.deps.Sessions == nil {
		return utils.E(utils.CodeInternal, op, "session store is not configured", nil)
	}
	if e.id.OwnerID == "" {
		return utils.E(utils.CodeUnauthorized, op, "owner id is required", nil)
	}

	sub, err := e.deps.Sessions.Subscribe(ctx, e.id.OwnerID, e.applySnapshot, e.fail)
	if err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to subscribe to sessions", err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = sub.Close()
		return utils.E(utils.CodeUnavailable, op, "engine closed", nil)
	}
	e.sub = sub
	e.mu.Unlock()
	return nil
}

// fail stops the engine after its subscription has ended for good. The
// view it holds can no longer be trusted, so it is dropped like on Close.
func (e *Engine) fail(err error) {
	e.log.WithError(err).Error("session subscription lost")

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.err = err
	sub := e.shutdownLocked()
	e.mu.Unlock()

	// fail may run on the subscription's own goroutine; Close waits for it
	if sub != nil {
		go func() { _ = sub.Close() }()
	}
}

// Err reports why the engine stopped by itself, or nil.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// Done is closed once the engine is closed or has failed.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Listeners is the number of registered OnChange callbacks.
func (e *Engine) Listeners() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Close unsubscribes and discards the in-memory view. Safe to call twice.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	sub := e.shutdownLocked()
	e.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}

func (e *Engine) shutdownLocked() repositories.Subscription {
	e.closed = true
	close(e.done)
	sub := e.sub
	e.sub = nil
	e.sessions = nil
	e.view = View{Active: []models.Session{}, History: []models.Session{}}
	e.listeners = nil
	return sub
}

func (e *Engine) applySnapshot(list []models.Session) {
	byID := make(map[string]models.Session, len(list))
	for _, s := range list {
		byID[s.ID.Hex()] = s
	}
	v, skipped := Classify(list, HistoryLimit)
	for _, s := range skipped {
		e.log.WithFields(logrus.Fields{
			"session_id": s.ID.Hex(),
			"status":     s.Status,
		}).Warn("session with unknown status left out of view")
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.sessions = byID
	e.view = v
	e.ready = true
	fns := make([]func(View), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// View returns the most recently derived view.
func (e *Engine) View() View {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return View{
		Active:  append([]models.Session{}, e.view.Active...),
		History: append([]models.Session{}, e.view.History...),
	}
}

// Session looks id up in the latest snapshot.
func (e *Engine) Session(id string) (models.Session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	return s, ok
}

// OnChange registers fn to receive every new view. If a snapshot has already
// arrived fn is called once immediately. The returned func unregisters it.
func (e *Engine) OnChange(fn func(View)) (stop func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return func() {}
	}
	e.nextKey++
	key := e.nextKey
	e.listeners[key] = fn
	ready, v := e.ready, e.view
	e.mu.Unlock()

	if ready {
		fn(v)
	}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, key)
	}
}

func (e *Engine) now() time.Time { return e.deps.Now().UTC() }

func (e *Engine) CheckIn(ctx context.Context, in CheckInInput) (*models.Session, error) {
	const op = "Engine.CheckIn"

	if err := e.usable(op); err != nil {
		return nil, err
	}

	jointID := strings.TrimSpace(in.JointID)
	desc := strings.TrimSpace(in.WorkDescription)
	if jointID == "" || desc == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "jointId and workDescription are required", nil)
	}
	if in.Location == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "location is required for check-in", nil)
	}
	if err := in.Location.Validate(); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid location", err)
	}

	pc, _ := e.deps.Postcodes.Lookup(ctx, in.Location.Latitude, in.Location.Longitude)

	now := e.now()
	s := &models.Session{
		EngineerID:      e.id.OwnerID,
		EngineerEmail:   e.id.OwnerContact,
		JointID:         jointID,
		WorkDescription: desc,
		Status:          models.StatusActive,
		StartTime:       now,
		Location:        in.Location.Location(pc),
		CreatedAt:       now,
	}

	id, err := e.deps.Sessions.Create(ctx, s)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to check in: "+err.Error(), err)
	}

	e.record(ctx, id, models.EventCheckIn, models.StatusActive, nil, map[string]any{
		"jointId":  jointID,
		"postcode": pc,
	})
	return s, nil
}

func (e *Engine) CheckOut(ctx context.Context, sessionID string, in CheckOutInput) (*models.Session, error) {
	const op = "Engine.CheckOut"

	s, err := e.activeSession(op, sessionID)
	if err != nil {
		return nil, err
	}

	notes := strings.TrimSpace(in.CompletionNotes)
	if notes == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "completion notes are required", nil)
	}
	rating := in.JointRating
	if rating == 0 {
		rating = defaultJointRating
	}
	if rating < 1 || rating > 10 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "jointRating must be between 1 and 10", nil)
	}
	quality := in.WorkQuality
	if quality == "" {
		quality = defaultWorkQuality
	}
	if !quality.Valid() {
		return nil, utils.E(utils.CodeInvalidArgument, op, "workQuality must be one of excellent, good, satisfactory, needs_review", nil)
	}

	photos := e.uploadPhotos(ctx, sessionID, in.Photos)

	end := e.now()
	c := models.Completion{
		EndTime:         end,
		Duration:        ElapsedMinutes(s.StartTime, end),
		CompletionNotes: notes,
		JointRating:     rating,
		WorkQuality:     quality,
		Photos:          photos,
	}
	if err := e.deps.Sessions.Complete(ctx, sessionID, c); err != nil {
		return nil, writeErr(op, "check out", err)
	}

	urls := make([]string, len(photos))
	for i, p := range photos {
		urls[i] = p.URL
	}
	e.record(ctx, sessionID, models.EventCheckOut, models.StatusCompleted, urls, map[string]any{
		"duration":    c.Duration,
		"jointRating": rating,
		"workQuality": quality,
	})

	out := s.ApplyCompletion(c)
	return &out, nil
}

func (e *Engine) Cancel(ctx context.Context, sessionID, reason string) (*models.Session, error) {
	const op = "Engine.Cancel"

	s, err := e.activeSession(op, sessionID)
	if err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = models.DefaultCancellationReason
	}

	at := e.now()
	c := models.Cancellation{
		CancelledAt:        at,
		Duration:           ElapsedMinutes(s.StartTime, at),
		CancellationReason: reason,
		CancelledBy:        e.id.OwnerContact,
	}
	if err := e.deps.Sessions.Cancel(ctx, sessionID, c); err != nil {
		return nil, writeErr(op, "cancel session", err)
	}

	e.record(ctx, sessionID, models.EventCancel, models.StatusCancelled, nil, map[string]any{
		"duration": c.Duration,
		"reason":   reason,
	})

	out := s.ApplyCancellation(c)
	return &out, nil
}

func (e *Engine) usable(op string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return e.closedErrLocked(op)
	}
	return nil
}

func (e *Engine) closedErrLocked(op string) error {
	if e.err != nil {
		return utils.E(utils.CodeUnavailable, op, "live session feed lost; reload", e.err)
	}
	return utils.E(utils.CodeUnavailable, op, "engine closed", nil)
}

// activeSession re-validates sessionID against the latest snapshot.
func (e *Engine) activeSession(op, sessionID string) (models.Session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return models.Session{}, e.closedErrLocked(op)
	}
	if !e.ready {
		return models.Session{}, utils.E(utils.CodeUnavailable, op, "sessions not loaded yet", nil)
	}
	s, ok := e.sessions[sessionID]
	if !ok {
		return models.Session{}, utils.E(utils.CodeNotFound, op, "session not found", nil)
	}
	if s.Status != models.StatusActive {
		return models.Session{}, utils.E(utils.CodeInvalidTransition, op, fmt.Sprintf("session is already %s", s.Status), nil)
	}
	return s, nil
}

func writeErr(op, action string, err error) error {
	switch {
	case errors.Is(err, utils.ErrStatusMismatch):
		return utils.E(utils.CodeInvalidTransition, op, "session is no longer active", err)
	case errors.Is(err, utils.ErrNotFound):
		return utils.E(utils.CodeNotFound, op, "session not found", err)
	default:
		return utils.E(utils.CodeUnavailable, op, "failed to "+action+": "+err.Error(), err)
	}
}

// uploadPhotos stores photos in order. A photo that fails to upload is
// logged and left out.
func (e *Engine) uploadPhotos(ctx context.Context, sessionID string, photos []PhotoUpload) []models.Photo {
	out := []models.Photo{}
	if len(photos) == 0 {
		return out
	}

	stamp := e.now().UnixMilli()
	for i, p := range photos {
		objectName := fmt.Sprintf("sessions/%s/photo_%d_%d.jpg", sessionID, i+1, stamp)
		log := e.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"file_name":  p.FileName,
			"object":     objectName,
		})

		if e.deps.Uploader == nil {
			log.Error("photo dropped: no uploader configured")
			continue
		}
		contentType := p.ContentType
		if contentType == "" {
			contentType = "image/jpeg"
		}

		url, err := e.deps.Uploader.Upload(ctx, objectName, contentType, p.Body)
		if err != nil {
			log.WithError(err).Error("photo upload failed")
			continue
		}
		out = append(out, models.Photo{
			URL:        url,
			FileName:   p.FileName,
			UploadedAt: e.now(),
		})
	}
	return out
}

func (e *Engine) record(ctx context.Context, sessionID string, kind models.EventKind, status models.SessionStatus, photoURLs []string, details map[string]any) {
	raw, err := json.Marshal(details)
	if err != nil {
		raw = []byte("{}")
	}
	ev := &models.SessionEvent{
		SessionID:  sessionID,
		OwnerID:    e.id.OwnerID,
		Kind:       kind,
		Status:     status,
		OccurredAt: e.now(),
		PhotoURLs:  photoURLs,
		Details:    datatypes.JSON(raw),
	}
	if err := e.deps.Journal.Record(ctx, ev); err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"kind":       kind,
		}).Warn("journal write failed")
	}
}

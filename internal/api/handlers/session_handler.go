package handlers

import (
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opbuddy121/fibre-joint-app/internal/models"
	"github.com/opbuddy121/fibre-joint-app/internal/providers/geo"
	"github.com/opbuddy121/fibre-joint-app/internal/services"
	"github.com/opbuddy121/fibre-joint-app/internal/utils"
)

const (
	maxPhotoBytes = 10 << 20
	maxPhotos     = 20

	// oldest device fix accepted for a check-in
	maxLocationAge = 10 * time.Minute
)

type SessionHandler struct {
	registry *services.Registry
	journal  services.Journal
	now      func() time.Time
}

func NewSessionHandler(registry *services.Registry, journal services.Journal, now func() time.Time) *SessionHandler {
	if journal == nil {
		journal = services.NopJournal{}
	}
	if now == nil {
		now = time.Now
	}
	return &SessionHandler{registry: registry, journal: journal, now: now}
}

func (h *SessionHandler) engine(c *gin.Context) (*services.Engine, bool) {
	id, ok := requireIdentity(c)
	if !ok {
		return nil, false
	}
	e, err := h.registry.Acquire(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return e, true
}

func (h *SessionHandler) List(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, renderView(e.View(), h.now().UTC()))
}

type CheckInRequest struct {
	JointID         string       `json:"jointId"`
	WorkDescription string       `json:"workDescription"`
	Location        *geo.Reading `json:"location"`

	// when the device took the fix; used for the staleness check
	LocationCapturedAt *time.Time `json:"locationCapturedAt,omitempty"`
}

func (h *SessionHandler) CheckIn(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}

	var req CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.CheckIn", "invalid request body", err))
		return
	}

	provider := geo.Submitted{Reading: req.Location, Now: h.now}
	if req.LocationCapturedAt != nil {
		provider.CapturedAt = *req.LocationCapturedAt
	}
	in := services.CheckInInput{JointID: req.JointID, WorkDescription: req.WorkDescription}
	opts := geo.DefaultOptions()
	opts.MaximumAge = maxLocationAge
	if reading, err := provider.CurrentPosition(c.Request.Context(), opts); err == nil {
		in.Location = &reading
	} else if req.Location != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, "SessionHandler.CheckIn", "location error: "+err.Error(), err))
		return
	}

	sess, err := e.CheckIn(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, SessionCard{Session: *sess, DurationText: services.DurationSoFar(*sess, h.now().UTC())})
}

type CheckOutRequest struct {
	CompletionNotes string             `json:"completionNotes" form:"completionNotes"`
	JointRating     string             `json:"-" form:"jointRating"`
	WorkQuality     models.WorkQuality `json:"workQuality" form:"workQuality"`
}

// CheckOut accepts multipart/form-data (with optional "photos" files) or a
// JSON body without photos.
func (h *SessionHandler) CheckOut(c *gin.Context) {
	const op = "SessionHandler.CheckOut"

	e, ok := h.engine(c)
	if !ok {
		return
	}

	in := services.CheckOutInput{}
	var files []*multipart.FileHeader

	if c.ContentType() == gin.MIMEJSON {
		var body struct {
			CompletionNotes string             `json:"completionNotes"`
			JointRating     int                `json:"jointRating"`
			WorkQuality     models.WorkQuality `json:"workQuality"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
			return
		}
		in.CompletionNotes, in.JointRating, in.WorkQuality = body.CompletionNotes, body.JointRating, body.WorkQuality
	} else {
		var form CheckOutRequest
		if err := c.ShouldBind(&form); err != nil {
			writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid form", err))
			return
		}
		in.CompletionNotes, in.WorkQuality = form.CompletionNotes, form.WorkQuality
		if s := strings.TrimSpace(form.JointRating); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				writeError(c, utils.E(utils.CodeInvalidArgument, op, "jointRating must be a number", err))
				return
			}
			in.JointRating = n
		}
		if mf, err := c.MultipartForm(); err == nil && mf != nil {
			files = mf.File["photos"]
		}
	}

	if len(files) > maxPhotos {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "too many photos (max "+strconv.Itoa(maxPhotos)+")", nil))
		return
	}
	// A photo that cannot be used is dropped and logged; the check-out
	// itself still goes through.
	for _, fh := range files {
		if fh.Size <= 0 || fh.Size > maxPhotoBytes {
			_ = c.Error(utils.E(utils.CodeInvalidArgument, op, "photo "+fh.Filename+" is empty or too large (max 10MB); skipped", nil))
			continue
		}
		ct := fh.Header.Get("Content-Type")
		if !strings.HasPrefix(ct, "image/") {
			_ = c.Error(utils.E(utils.CodeInvalidArgument, op, "photo "+fh.Filename+" is not an image; skipped", nil))
			continue
		}
		f, err := fh.Open()
		if err != nil {
			_ = c.Error(utils.E(utils.CodeInternal, op, "photo "+fh.Filename+" could not be opened; skipped", err))
			continue
		}
		defer f.Close()
		in.Photos = append(in.Photos, services.PhotoUpload{FileName: fh.Filename, ContentType: ct, Body: f})
	}
	if skipped := len(files) - len(in.Photos); skipped > 0 {
		c.Header("X-Photos-Skipped", strconv.Itoa(skipped))
	}

	sess, err := e.CheckOut(c.Request.Context(), c.Param("session_id"), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionCard{Session: *sess, DurationText: services.DurationSoFar(*sess, h.now().UTC())})
}

type CancelRequest struct {
	Reason  string `json:"reason"`
	Confirm bool   `json:"confirm"`
}

func (h *SessionHandler) Cancel(c *gin.Context) {
	const op = "SessionHandler.Cancel"

	e, ok := h.engine(c)
	if !ok {
		return
	}

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "invalid request body", err))
		return
	}
	if !req.Confirm {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "cancellation must be confirmed; this cannot be undone", nil))
		return
	}

	sess, err := e.Cancel(c.Request.Context(), c.Param("session_id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, SessionCard{Session: *sess, DurationText: services.DurationSoFar(*sess, h.now().UTC())})
}

func (h *SessionHandler) Events(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}

	sessionID := c.Param("session_id")
	// only sessions in the caller's own snapshot are visible
	if _, found := e.Session(sessionID); !found {
		writeError(c, utils.E(utils.CodeNotFound, "SessionHandler.Events", "session not found", nil))
		return
	}

	rows, err := h.journal.ListBySession(c.Request.Context(), e.Identity().OwnerID, sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"events":     rows,
	})
}

// SignOut drops the caller's live subscription and in-memory view.
func (h *SessionHandler) SignOut(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}
	if err := h.registry.Release(id.OwnerID); err != nil {
		writeError(c, utils.E(utils.CodeInternal, "SessionHandler.SignOut", "failed to release session view", err))
		return
	}
	c.Status(http.StatusNoContent)
}

package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type WorkQuality string

const (
	QualityExcellent    WorkQuality = "excellent"
	QualityGood         WorkQuality = "good"
	QualitySatisfactory WorkQuality = "satisfactory"
	QualityNeedsReview  WorkQuality = "needs_review"
)

func (q WorkQuality) Valid() bool {
	switch q {
	case QualityExcellent, QualityGood, QualitySatisfactory, QualityNeedsReview:
		return true
	}
	return false
}

const DefaultCancellationReason = "No reason provided"

// Session is one engineer visit to a joint, from check-in to a terminal outcome.
// Field names match the documents written by the browser app.
type Session struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	EngineerID    string             `bson:"engineerId" json:"engineerId"`
	EngineerEmail string             `bson:"engineerEmail" json:"engineerEmail"`

	JointID         string        `bson:"jointId" json:"jointId"`
	WorkDescription string        `bson:"workDescription" json:"workDescription"`
	Status          SessionStatus `bson:"status" json:"status"` // active|completed|cancelled

	StartTime time.Time  `bson:"startTime" json:"startTime"`
	EndTime   *time.Time `bson:"endTime,omitempty" json:"endTime,omitempty"`
	Location  *Location  `bson:"location,omitempty" json:"location,omitempty"`
	Duration  *int       `bson:"duration,omitempty" json:"duration,omitempty"` // minutes

	// completed only
	CompletionNotes string      `bson:"completionNotes,omitempty" json:"completionNotes,omitempty"`
	JointRating     int         `bson:"jointRating,omitempty" json:"jointRating,omitempty"`
	WorkQuality     WorkQuality `bson:"workQuality,omitempty" json:"workQuality,omitempty"`
	Photos          []Photo     `bson:"photos,omitempty" json:"photos,omitempty"`
	CompletedAt     *time.Time  `bson:"completedAt,omitempty" json:"completedAt,omitempty"`

	// cancelled only
	CancelledAt        *time.Time `bson:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`
	CancellationReason string     `bson:"cancellationReason,omitempty" json:"cancellationReason,omitempty"`
	CancelledBy        string     `bson:"cancelledBy,omitempty" json:"cancelledBy,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

type Location struct {
	Latitude  float64 `bson:"latitude" json:"latitude"`
	Longitude float64 `bson:"longitude" json:"longitude"`
	Accuracy  float64 `bson:"accuracy" json:"accuracy"`
	Postcode  *string `bson:"postcode,omitempty" json:"postcode,omitempty"`
}

type Photo struct {
	URL        string    `bson:"url" json:"url"`
	FileName   string    `bson:"fileName" json:"fileName"`
	UploadedAt time.Time `bson:"uploadedAt" json:"uploadedAt"`
}

// Completion is the field set written by a check-out.
type Completion struct {
	EndTime         time.Time
	Duration        int
	CompletionNotes string
	JointRating     int
	WorkQuality     WorkQuality
	Photos          []Photo
}

// Cancellation is the field set written by a cancel.
type Cancellation struct {
	CancelledAt        time.Time
	Duration           int
	CancellationReason string
	CancelledBy        string
}

// ApplyCompletion returns a copy of s as it looks after a check-out.
func (s Session) ApplyCompletion(c Completion) Session {
	end := c.EndTime
	dur := c.Duration
	photos := c.Photos
	if photos == nil {
		photos = []Photo{}
	}
	s.Status = StatusCompleted
	s.EndTime = &end
	s.CompletedAt = &end
	s.Duration = &dur
	s.CompletionNotes = c.CompletionNotes
	s.JointRating = c.JointRating
	s.WorkQuality = c.WorkQuality
	s.Photos = photos
	return s
}

// ApplyCancellation returns a copy of s as it looks after a cancel.
func (s Session) ApplyCancellation(c Cancellation) Session {
	at := c.CancelledAt
	dur := c.Duration
	s.Status = StatusCancelled
	s.EndTime = &at
	s.CancelledAt = &at
	s.Duration = &dur
	s.CancellationReason = c.CancellationReason
	s.CancelledBy = c.CancelledBy
	return s
}

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opbuddy121/fibre-joint-app/internal/api/middleware"
	"github.com/opbuddy121/fibre-joint-app/internal/models"
	"github.com/opbuddy121/fibre-joint-app/internal/services"
	"github.com/opbuddy121/fibre-joint-app/internal/utils"
)

type APIError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

func writeError(c *gin.Context, err error) {
	status := utils.HTTPStatus(err)
	_ = c.Error(err)

	var ae *utils.AppError
	if errors.As(err, &ae) {
		c.JSON(status, APIError{
			Code:    ae.Code,
			Message: ae.Message,
		})
		return
	}

	c.JSON(status, APIError{
		Code:    utils.CodeInternal,
		Message: http.StatusText(status),
	})
}

func requireIdentity(c *gin.Context) (models.Identity, bool) {
	if v, ok := c.Get(middleware.CtxUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			email, _ := c.Get(middleware.CtxUserEmail)
			contact, _ := email.(string)
			return models.Identity{OwnerID: s, OwnerContact: contact}, true
		}
	}

	writeError(c, utils.E(utils.CodeUnauthorized, "Auth", "unauthorized", nil))
	return models.Identity{}, false
}

// SessionCard is a session as shown on the dashboard. DurationText is
// derived at render time.
type SessionCard struct {
	models.Session
	DurationText string `json:"durationText"`
}

type ViewResponse struct {
	Active      []SessionCard `json:"active"`
	History     []SessionCard `json:"history"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

func renderView(v services.View, now time.Time) ViewResponse {
	return ViewResponse{
		Active:      renderCards(v.Active, now),
		History:     renderCards(v.History, now),
		GeneratedAt: now,
	}
}

func renderCards(list []models.Session, now time.Time) []SessionCard {
	out := make([]SessionCard, len(list))
	for i, s := range list {
		out[i] = SessionCard{Session: s, DurationText: services.DurationSoFar(s, now)}
	}
	return out
}

package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/metrics"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/middleware"
)

type resolveRequest struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	AccuracyM *float64 `json:"accuracy_m"`
}

type verifyPresenceRequest struct {
	Token string `json:"token"`
}

// HandleCreateSession starts an anonymous device session.
func (h *Controller) HandleCreateSession(c *fiber.Ctx) error {
	session := models.NewDeviceSession(c.Get(fiber.HeaderUserAgent))
	if err := h.Repos.Session.Create(session); err != nil {
		return respondError(c, apperror.Internal("could not create session", err))
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"device_session_id": session.ID})
}

// HandleResolvePresence matches coordinates to a board and issues a presence
// token for it. No board nearby is a normal answer, not an error.
func (h *Controller) HandleResolvePresence(c *fiber.Ctx) error {
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}
	if req.Lat == nil || req.Lng == nil || req.AccuracyM == nil {
		return badRequest(c, "lat, lng and accuracy_m are required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	match, err := h.Resolver.Resolve(ctx, *req.Lat, *req.Lng, *req.AccuracyM)
	if err != nil {
		return respondError(c, err)
	}
	if match == nil {
		return c.JSON(fiber.Map{"location": nil, "message": "No board here yet"})
	}

	now := time.Now()
	device := middleware.DeviceSessionFrom(c)
	token, err := h.Presence.Issue(device, match.Location.ID, match.Location.Slug, *req.AccuracyM, now)
	if err != nil {
		return respondError(c, apperror.Internal("could not issue presence token", err))
	}
	metrics.RecordPresence("issued")

	return c.JSON(fiber.Map{
		"location": fiber.Map{
			"id":       match.Location.ID,
			"slug":     match.Location.Slug,
			"name":     match.Location.Name,
			"claimed":  match.Location.Claimed,
			"radius_m": match.Location.RadiusM,
		},
		"distance_m":     match.DistanceM,
		"presence_token": token,
		"expires_at":     now.Add(h.Presence.TTL()).UTC().Format(time.RFC3339),
	})
}

// HandleVerifyPresence reports whether a token is currently valid.
func (h *Controller) HandleVerifyPresence(c *fiber.Ctx) error {
	var req verifyPresenceRequest
	_ = c.BodyParser(&req)
	token := req.Token
	if token == "" {
		token = c.Get(middleware.PresenceTokenHeader)
	}
	if token == "" {
		return badRequest(c, "token is required")
	}

	v := h.Presence.Verify(token, time.Now())
	if !v.Valid {
		metrics.RecordPresence(string(v.Reason))
		return c.JSON(fiber.Map{"valid": false, "reason": v.Reason})
	}
	metrics.RecordPresence("valid")
	return c.JSON(fiber.Map{"valid": true, "payload": v.Payload})
}

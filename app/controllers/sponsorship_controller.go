package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/ledger"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/middleware"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/sponsorship"
)

type bidRequest struct {
	AmountSats   int64  `json:"amount_sats"`
	SponsorLabel string `json:"sponsor_label"`
}

// HandleSubmitBid opens a sponsor invoice for the caller's present location.
func (h *Controller) HandleSubmitBid(c *fiber.Ctx) error {
	p, ok := middleware.PresenceFrom(c)
	if !ok {
		return respondError(c, apperror.Unauthorized("missing_presence_token", "presence token required"))
	}
	var req bidRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	entry, err := h.Sponsorship.SubmitBid(ctx, sponsorship.BidRequest{
		DeviceSessionID: p.DeviceSessionID,
		LocationID:      p.LocationID,
		AmountSats:      req.AmountSats,
		SponsorLabel:    req.SponsorLabel,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ledger.NewInvoice(models.PurposeSponsor, entry))
}

// HandleSponsorQueue lists the running and upcoming sponsor windows.
func (h *Controller) HandleSponsorQueue(c *fiber.Ctx) error {
	locationID, err := uintParam(c, "locationId")
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	queue, err := h.Sponsorship.Queue(ctx, locationID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"location_id": locationID, "queue": queue})
}

// HandleCurrentSponsor returns the active sponsor, if any, and the floor for
// the next bid.
func (h *Controller) HandleCurrentSponsor(c *fiber.Ctx) error {
	locationID, err := uintParam(c, "locationId")
	if err != nil {
		return respondError(c, err)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	floor, active, err := h.Sponsorship.MinimumBid(ctx, locationID)
	if err != nil {
		return respondError(c, err)
	}

	resp := fiber.Map{
		"location_id":      locationID,
		"minimum_bid_sats": floor,
		"sponsor":          nil,
	}
	if active != nil {
		resp["sponsor"] = fiber.Map{
			"public_id":         active.PublicID,
			"sponsor_label":     active.SponsorLabel,
			"amount_sats":       active.AmountSats,
			"activation_at":     formatTimePtr(active.ActivationAt),
			"expires_at":        formatTimePtr(active.WindowEnd()),
			"remaining_seconds": int64(time.Until(*active.WindowEnd()).Seconds()),
		}
	}
	return c.JSON(resp)
}

package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/ledger"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/middleware"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/sponsorship"
)

type createInvoiceRequest struct {
	Purpose      string `json:"purpose"`
	PostID       uint   `json:"post_id"`
	Weight       int    `json:"weight"`
	BusinessName string `json:"business_name"`
	AmountSats   int64  `json:"amount_sats"`
	SponsorLabel string `json:"sponsor_label"`
}

type redeemDeletionRequest struct {
	PaymentID string `json:"payment_id"`
}

// HandleCreateInvoice opens an invoice for a purpose at the caller's present
// location. Sponsor purposes go through the bid floor first.
func (h *Controller) HandleCreateInvoice(c *fiber.Ctx) error {
	p, ok := middleware.PresenceFrom(c)
	if !ok {
		return respondError(c, apperror.Unauthorized("missing_presence_token", "presence token required"))
	}
	var req createInvoiceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	purpose := strings.ToLower(strings.TrimSpace(req.Purpose))
	if purpose == models.PurposeSponsor {
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

	inv, err := h.Ledger.CreateInvoice(ctx, ledger.Request{
		Purpose:         purpose,
		DeviceSessionID: p.DeviceSessionID,
		LocationID:      p.LocationID,
		PostID:          req.PostID,
		Weight:          req.Weight,
		BusinessName:    req.BusinessName,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(inv)
}

// HandleInvoiceStatus is the polling fallback for clients that missed the webhook.
func (h *Controller) HandleInvoiceStatus(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	inv, err := h.Ledger.InvoiceStatus(ctx, c.Params("providerInvoiceId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(inv)
}

// HandleApplyInvoice lets an operator trigger settlement by hand. Repeats are
// answered with success=false.
func (h *Controller) HandleApplyInvoice(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Ledger.ApplyPaymentEffects(ctx, c.Params("providerInvoiceId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// HandlePaymentWebhook verifies and applies a provider delivery.
func (h *Controller) HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)

	ctx, cancel := requestContext(c)
	defer cancel()

	res, err := h.Ledger.HandleWebhook(ctx, c.Params("provider"), func(key string) string {
		return c.Get(key)
	}, rawBody)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":      true,
		"success": res.Success,
		"purpose": res.Purpose,
		"reason":  res.Reason,
	})
}

// HandleRedeemDeletion deletes a post with a paid deletion credit.
func (h *Controller) HandleRedeemDeletion(c *fiber.Ctx) error {
	postID, err := uintParam(c, "postId")
	if err != nil {
		return respondError(c, err)
	}
	var req redeemDeletionRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.PaymentID) == "" {
		return badRequest(c, "payment_id is required")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Ledger.RedeemDeletion(ctx, middleware.DeviceSessionFrom(c), req.PaymentID, postID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "post_id": postID})
}

// HandleConsumePostCredit spends one paid post credit at the present location.
func (h *Controller) HandleConsumePostCredit(c *fiber.Ctx) error {
	p, ok := middleware.PresenceFrom(c)
	if !ok {
		return respondError(c, apperror.Unauthorized("missing_presence_token", "presence token required"))
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	credit, err := h.Ledger.ConsumePostCredit(ctx, p.DeviceSessionID, p.LocationID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":          true,
		"payment_id":  credit.PublicID,
		"consumed_at": formatTimePtr(credit.ConsumedAt),
	})
}

// HandleRevokeClaim revokes a merchant claim by id or claim code.
func (h *Controller) HandleRevokeClaim(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	claim, err := h.Ledger.RevokeClaim(ctx, c.Params("claimId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":           true,
		"claim_id":     claim.ID,
		"claim_status": claim.ClaimStatus,
		"location_id":  claim.LocationID,
	})
}

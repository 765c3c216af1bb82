package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/middleware"
)

type displayNameRequest struct {
	DisplayName string `json:"display_name"`
}

func identityView(identity *models.LnurlIdentity) fiber.Map {
	return fiber.Map{
		"id":            identity.ID,
		"linking_key":   identity.LinkingKey,
		"anon_nym":      identity.AnonNym,
		"display_name":  identity.DisplayName,
		"public_name":   identity.PublicName(),
		"last_login_at": formatTimePtr(identity.LastLoginAt),
	}
}

// HandleCreateChallenge issues a login challenge for the calling device.
func (h *Controller) HandleCreateChallenge(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	challenge, err := h.Lnurl.CreateChallenge(ctx, middleware.DeviceSessionFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(challenge)
}

// HandleChallengeStatus is polled by the device while the wallet signs.
func (h *Controller) HandleChallengeStatus(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	challenge, err := h.Lnurl.ChallengeStatus(ctx, c.Params("k1"))
	if err != nil {
		return respondError(c, err)
	}
	if challenge.DeviceSessionID != middleware.DeviceSessionFrom(c) {
		return respondError(c, apperror.NotFound("challenge_not_found", "challenge not found"))
	}
	return c.JSON(challenge)
}

// HandleLnurlCallback is called by the wallet. Wallets expect the LNURL status
// envelope rather than the API error shape, always with HTTP 200.
func (h *Controller) HandleLnurlCallback(c *fiber.Ctx) error {
	if tag := c.Query("tag"); tag != "" && tag != "login" {
		return c.JSON(fiber.Map{"status": "ERROR", "reason": "unsupported tag"})
	}
	k1, sig, key := c.Query("k1"), c.Query("sig"), c.Query("key")
	if k1 == "" || sig == "" || key == "" {
		return c.JSON(fiber.Map{"status": "ERROR", "reason": "k1, sig and key are required"})
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	identity, err := h.Lnurl.Verify(ctx, k1, sig, key)
	if err != nil {
		var reason string
		if ae, ok := err.(*apperror.Error); ok && ae.Kind != apperror.KindInternal {
			reason = ae.Message
		} else {
			log.Errorf("[LNURL] Callback failed: %v", err)
			reason = "internal error"
		}
		return c.JSON(fiber.Map{"status": "ERROR", "reason": reason})
	}
	log.Infof("[LNURL] Wallet login for identity %d", identity.ID)
	return c.JSON(fiber.Map{"status": "OK"})
}

// HandleGetIdentity returns the identity linked to the calling device.
func (h *Controller) HandleGetIdentity(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	identity, err := h.Lnurl.GetIdentity(ctx, middleware.DeviceSessionFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(identityView(identity))
}

// HandleUpdateDisplayName sets a custom display name.
func (h *Controller) HandleUpdateDisplayName(c *fiber.Ctx) error {
	var req displayNameRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid JSON body")
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	identity, err := h.Lnurl.UpdateDisplayName(ctx, middleware.DeviceSessionFrom(c), req.DisplayName)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(identityView(identity))
}

// HandleUnlinkIdentity logs the device out of its identity.
func (h *Controller) HandleUnlinkIdentity(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.Lnurl.Unlink(ctx, middleware.DeviceSessionFrom(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LocalBoard/app/repository"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/metrics"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/presence"
)

const (
	PresenceTokenHeader = "X-Presence-Token"
	DeviceSessionHeader = "X-Device-Session-Id"

	KeyPresence      = "PRESENCE"
	KeyDeviceSession = "DEVICE_SESSION_ID"
)

// RequireDeviceSession rejects requests without a known device session id and
// stores the id in locals.
func RequireDeviceSession(sessions repository.SessionRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(DeviceSessionHeader))
		if id == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing_device_session", "message": "Missing " + DeviceSessionHeader + " header"})
		}
		ok, err := sessions.Exists(id)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error", "message": "Device session lookup failed"})
		}
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unknown_device_session", "message": "Device session not found"})
		}
		if err := sessions.Touch(id, time.Now().UTC()); err != nil {
			log.Warnf("[Session] Could not touch device session: %v", err)
		}
		c.Locals(KeyDeviceSession, id)
		return c.Next()
	}
}

// RequirePresence verifies the presence token and checks that it was issued
// to the calling device. The payload is stored in locals.
func RequirePresence(svc *presence.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(c.Get(PresenceTokenHeader))
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing_presence_token", "message": "Missing " + PresenceTokenHeader + " header"})
		}

		v := svc.Verify(token, time.Now())
		if !v.Valid {
			metrics.RecordPresence(string(v.Reason))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_presence_token", "message": "Presence token is " + string(v.Reason)})
		}
		if device := strings.TrimSpace(c.Get(DeviceSessionHeader)); device != v.Payload.DeviceSessionID {
			metrics.RecordPresence("device_mismatch")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_presence_token", "message": "Presence token was issued to another device"})
		}
		metrics.RecordPresence("valid")

		c.Locals(KeyPresence, *v.Payload)
		c.Locals(KeyDeviceSession, v.Payload.DeviceSessionID)
		return c.Next()
	}
}

// PresenceFrom returns the verified presence payload of the request.
func PresenceFrom(c *fiber.Ctx) (presence.Payload, bool) {
	p, ok := c.Locals(KeyPresence).(presence.Payload)
	return p, ok
}

// DeviceSessionFrom returns the device session id set by RequireDeviceSession
// or RequirePresence.
func DeviceSessionFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(KeyDeviceSession).(string)
	return id
}

package controllers

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LocalBoard/app/repository"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/geo"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/ledger"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/lnurl"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/presence"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/sponsorship"
)

const requestTimeout = 15 * time.Second

// Controller serves the /api/v1 endpoints. All collaborators are injected at
// startup.
type Controller struct {
	Repos       *repository.Repositories
	Presence    *presence.Service
	Resolver    *geo.Resolver
	Ledger      *ledger.Service
	Sponsorship *sponsorship.Service
	Lnurl       *lnurl.Service
}

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

// respondError renders err as {"error": code, "message": text} with the status
// of its kind.
func respondError(c *fiber.Ctx, err error) error {
	var ae *apperror.Error
	if !errors.As(err, &ae) {
		ae = apperror.Internal("internal error", err)
	}

	status := statusForKind(ae.Kind)
	if ae.Kind == apperror.KindInternal {
		log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	}
	if ae.Kind == apperror.KindRateLimited && ae.RetryAfter > 0 {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ae.RetryAfter.Seconds())))
	}
	return c.Status(status).JSON(fiber.Map{"error": ae.Code, "message": ae.Message})
}

func statusForKind(k apperror.Kind) int {
	switch k {
	case apperror.KindValidation:
		return fiber.StatusBadRequest
	case apperror.KindUnauthorized:
		return fiber.StatusUnauthorized
	case apperror.KindForbidden:
		return fiber.StatusForbidden
	case apperror.KindNotFound:
		return fiber.StatusNotFound
	case apperror.KindConflict:
		return fiber.StatusConflict
	case apperror.KindRateLimited:
		return fiber.StatusTooManyRequests
	case apperror.KindUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return respondError(c, apperror.Validation("bad_request", message))
}

func uintParam(c *fiber.Ctx, name string) (uint, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(c.Params(name)), 10, 64)
	if err != nil || v == 0 {
		return 0, apperror.Validation("invalid_"+strings.ToLower(name), name+" must be a positive integer")
	}
	return uint(v), nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

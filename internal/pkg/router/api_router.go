package router

import (
	"net"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/LocalBoard/app/controllers"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/metrics"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/middleware"
)

// limiterDatabase keeps limiter counters away from the cache keys in DB 0.
const limiterDatabase = 1

type ApiRouter struct {
	controller *controllers.Controller
	cfg        *config.Config
	cache      *redis.Client
}

func NewApiRouter(controller *controllers.Controller, cfg *config.Config, cache *redis.Client) *ApiRouter {
	return &ApiRouter{controller: controller, cfg: cfg, cache: cache}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api", limiter.New(h.limiterConfig()))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	c := h.controller
	session := middleware.RequireDeviceSession(c.Repos.Session)
	presence := middleware.RequirePresence(c.Presence)
	admin := middleware.AdminKeyMiddleware(h.cfg.App.AdminAPIKey)

	v1 := api.Group("/v1")

	// device sessions and presence
	v1.Post("/sessions", c.HandleCreateSession)
	v1.Post("/presence/resolve", session, c.HandleResolvePresence)
	v1.Post("/presence/verify", c.HandleVerifyPresence)

	// payments
	v1.Post("/invoices", presence, c.HandleCreateInvoice)
	v1.Get("/invoices/:providerInvoiceId", c.HandleInvoiceStatus)
	v1.Post("/invoices/:providerInvoiceId/apply", admin, c.HandleApplyInvoice)
	v1.Post("/webhooks/:provider", c.HandlePaymentWebhook)
	v1.Post("/posts/credits/consume", presence, c.HandleConsumePostCredit)
	v1.Post("/posts/:postId/delete", presence, c.HandleRedeemDeletion)
	v1.Post("/claims/:claimId/revoke", admin, c.HandleRevokeClaim)

	// sponsorships
	v1.Post("/sponsorships/bids", presence, c.HandleSubmitBid)
	v1.Get("/locations/:locationId/sponsorships", c.HandleSponsorQueue)
	v1.Get("/locations/:locationId/sponsorships/current", c.HandleCurrentSponsor)

	// wallet login
	v1.Get("/lnurl/callback", c.HandleLnurlCallback)
	v1.Post("/lnurl/challenges", session, c.HandleCreateChallenge)
	v1.Get("/lnurl/challenges/:k1", session, c.HandleChallengeStatus)
	v1.Get("/identity", session, c.HandleGetIdentity)
	v1.Patch("/identity", session, c.HandleUpdateDisplayName)
	v1.Delete("/identity", session, c.HandleUnlinkIdentity)
}

func (h ApiRouter) limiterConfig() limiter.Config {
	cfg := limiter.Config{
		Max:          h.cfg.RateLimit.Max,
		Expiration:   h.cfg.RateLimit.Window,
		KeyGenerator: controllers.ClientIP,
		Next: func(c *fiber.Ctx) bool {
			// provider and wallet callbacks are not end users
			return strings.HasPrefix(c.Path(), "/api/v1/webhooks/") || c.Path() == "/api/v1/lnurl/callback"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many requests"})
		},
	}
	if h.cfg.RateLimit.RedisStore && h.cache != nil {
		if storage := newLimiterStorage(h.cache); storage != nil {
			cfg.Storage = storage
		}
	}
	return cfg
}

// newLimiterStorage shares limiter counters across instances through the
// cache server the client points at.
func newLimiterStorage(client *redis.Client) *redisstorage.Storage {
	opts := client.Options()
	host, portStr, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		log.Warnf("[RateLimit] Invalid cache address %q, using in-memory limiter: %v", opts.Addr, err)
		return nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		log.Warnf("[RateLimit] Invalid cache port %q, using in-memory limiter: %v", portStr, err)
		return nil
	}
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}

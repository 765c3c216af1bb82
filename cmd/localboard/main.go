package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/LocalBoard/app/controllers"
	"github.com/ManuelReschke/LocalBoard/app/repository"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/cache"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/database"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/env"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/geo"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/ledger"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/lightning"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/lnurl"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/lock"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/presence"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/router"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/sponsorship"
)

const geoIndexKey = "localboard:locations:geo"

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		log.Fatal(err)
	}
	err = app.Listen(fmt.Sprintf("%s:%s", cfg.App.Host, cfg.App.Port))
	log.Fatal(err)
}

func NewApplication(cfg *config.Config) (*fiber.App, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	cacheClient := cache.NewClient(cfg.Cache)

	provider, err := lightning.NewProvider(cfg.Payments, cfg.Pricing.InvoiceExpiry)
	if err != nil {
		return nil, fmt.Errorf("payment provider: %w", err)
	}
	presenceSvc, err := presence.NewService(cfg.Presence.Secret, cfg.Presence.TTL)
	if err != nil {
		return nil, fmt.Errorf("presence: %w", err)
	}

	repos := repository.NewRepositories(db)

	var index geo.SpatialIndex
	if cfg.Geo.SpatialIndex && cache.Available(context.Background(), cacheClient) {
		index = geo.NewRedisIndex(cacheClient, geoIndexKey)
	}
	resolver := geo.NewResolver(repos.Location, index, cfg.Geo)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := resolver.RebuildIndex(ctx); err != nil {
		// the resolver scans until a later rebuild succeeds
		log.Printf("could not build location index: %v", err)
	}

	var lockClient = cacheClient
	if !cache.Available(context.Background(), cacheClient) {
		lockClient = nil
	}
	ledgerSvc := ledger.NewServiceFromDB(db, provider, lock.New(cfg.Lock, lockClient), cfg.Pricing, cfg.Payments.MemoPrefix)

	controller := &controllers.Controller{
		Repos:       repos,
		Presence:    presenceSvc,
		Resolver:    resolver,
		Ledger:      ledgerSvc,
		Sponsorship: sponsorship.NewService(db, ledgerSvc, cfg.Pricing.SponsorBaseSats),
		Lnurl:       lnurl.NewService(db, cfg.Lnurl),
	}

	app := fiber.New(fiber.Config{
		AppName:   "LocalBoard",
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if _, err := os.Stat(cfg.App.DocsPath); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: cfg.App.DocsPath,
			Path:     "v1",
		}))
	} else {
		log.Printf("openapi document %s not found, docs disabled", cfg.App.DocsPath)
	}

	// ROUTER
	var rateLimitCache = cacheClient
	if !cfg.RateLimit.RedisStore || !cache.Available(context.Background(), cacheClient) {
		rateLimitCache = nil
	}
	router.InstallRouter(app, router.NewApiRouter(controller, cfg, rateLimitCache))

	return app, nil
}

package config

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/hkdf"

	"github.com/ManuelReschke/LocalBoard/internal/pkg/env"
)

const (
	BackendOpenNode = "opennode"
	BackendLNbits   = "lnbits"
	BackendMock     = "mock"
)

// Config is built once at startup and handed to every component constructor.
type Config struct {
	App       App
	Database  Database
	Cache     Cache
	Presence  Presence
	Geo       Geo
	Payments  Payments
	Pricing   Pricing
	Lnurl     Lnurl
	Lock      Lock
	RateLimit RateLimit
}

type App struct {
	Host        string `validate:"required"`
	Port        string `validate:"required,numeric"`
	Secret      string `validate:"required,min=16"`
	AdminAPIKey string
	DocsPath    string
}

type Database struct {
	Driver     string `validate:"oneof=mysql sqlite"`
	Host       string
	Port       string
	User       string
	Password   string
	Name       string
	SQLitePath string
}

type Cache struct {
	Host     string
	Port     string
	Password string
	DB       int `validate:"gte=0"`
}

type Presence struct {
	Secret []byte        `validate:"required"`
	TTL    time.Duration `validate:"gt=0"`
}

type Geo struct {
	MaxAccuracyM       float64 `validate:"gt=0"`
	GlobalMaxDistanceM float64 `validate:"gte=0"`
	SpatialIndex       bool
}

type Payments struct {
	Backend    string `validate:"oneof=opennode lnbits mock"`
	MemoPrefix string
	OpenNode   OpenNode
	LNbits     LNbits
	Mock       Mock
}

type OpenNode struct {
	BaseURL     string
	APIKey      string
	CallbackURL string
}

type LNbits struct {
	BaseURL       string
	InvoiceKey    string
	WebhookURL    string
	WebhookSecret string
}

type Mock struct {
	WebhookSecret string
}

type Pricing struct {
	PostSats        int64         `validate:"gt=0"`
	BoostSats       int64         `validate:"gt=0"`
	DeleteSats      int64         `validate:"gt=0"`
	ClaimSats       int64         `validate:"gt=0"`
	SponsorBaseSats int64         `validate:"gt=0"`
	BoostDuration   time.Duration `validate:"gt=0"`
	InvoiceExpiry   time.Duration `validate:"gt=0"`
}

type Lnurl struct {
	CallbackURL    string        `validate:"required,url"`
	ChallengeTTL   time.Duration `validate:"gt=0"`
	ReservedPrefix string        `validate:"required"`
}

type Lock struct {
	Backend string        `validate:"oneof=local redis"`
	TTL     time.Duration `validate:"gt=0"`
}

type RateLimit struct {
	Max        int           `validate:"gt=0"`
	Window     time.Duration `validate:"gt=0"`
	RedisStore bool
}

// Load reads the process configuration through the env package.
// SetupEnvFile must have been called before.
func Load() (*Config, error) {
	appSecret := env.GetEnv("APP_SECRET", "")

	cfg := &Config{
		App: App{
			Host:        env.GetEnv("APP_HOST", "localhost"),
			Port:        env.GetEnv("APP_PORT", "4000"),
			Secret:      appSecret,
			AdminAPIKey: env.GetEnv("ADMIN_API_KEY", ""),
			DocsPath:    env.GetEnv("OPENAPI_FILE", "./public/docs/v1/openapi.yml"),
		},
		Database: Database{
			Driver:     strings.ToLower(env.GetEnv("DB_DRIVER", "mysql")),
			Host:       env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:       env.GetEnv("DB_PORT", "3306"),
			User:       env.GetEnv("DB_USER", ""),
			Password:   env.GetEnv("DB_PASSWORD", ""),
			Name:       env.GetEnv("DB_NAME", ""),
			SQLitePath: env.GetEnv("DB_SQLITE_PATH", "localboard.db"),
		},
		Cache: Cache{
			Host:     env.GetEnv("CACHE_HOST", "localhost"),
			Port:     env.GetEnv("CACHE_PORT", "6379"),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       env.GetInt("CACHE_DB", 0),
		},
		Presence: Presence{
			TTL: env.GetDuration("PRESENCE_TOKEN_TTL", 120*time.Second),
		},
		Geo: Geo{
			MaxAccuracyM:       env.GetFloat("GEO_MAX_ACCURACY_M", 100),
			GlobalMaxDistanceM: env.GetFloat("GEO_GLOBAL_MAX_DISTANCE_M", 100),
			SpatialIndex:       env.GetBool("GEO_SPATIAL_INDEX", true),
		},
		Payments: Payments{
			Backend:    strings.ToLower(env.GetEnv("PAYMENT_BACKEND", BackendMock)),
			MemoPrefix: env.GetEnv("PAYMENT_MEMO_PREFIX", "LocalBoard"),
			OpenNode: OpenNode{
				BaseURL:     env.GetEnv("OPENNODE_API_BASE_URL", "https://api.opennode.com"),
				APIKey:      env.GetEnv("OPENNODE_API_KEY", ""),
				CallbackURL: env.GetEnv("OPENNODE_CALLBACK_URL", ""),
			},
			LNbits: LNbits{
				BaseURL:       env.GetEnv("LNBITS_BASE_URL", ""),
				InvoiceKey:    env.GetEnv("LNBITS_INVOICE_KEY", ""),
				WebhookURL:    env.GetEnv("LNBITS_WEBHOOK_URL", ""),
				WebhookSecret: env.GetEnv("LNBITS_WEBHOOK_SECRET", ""),
			},
			Mock: Mock{
				WebhookSecret: env.GetEnv("MOCK_WEBHOOK_SECRET", ""),
			},
		},
		Pricing: Pricing{
			PostSats:        int64(env.GetInt("PRICE_POST_SATS", 100)),
			BoostSats:       int64(env.GetInt("PRICE_BOOST_SATS", 500)),
			DeleteSats:      int64(env.GetInt("PRICE_DELETE_SATS", 1000)),
			ClaimSats:       int64(env.GetInt("PRICE_MERCHANT_CLAIM_SATS", 5000)),
			SponsorBaseSats: int64(env.GetInt("PRICE_SPONSOR_BASE_SATS", 1000)),
			BoostDuration:   env.GetDuration("BOOST_DURATION", 24*time.Hour),
			InvoiceExpiry:   env.GetDuration("INVOICE_EXPIRY", 15*time.Minute),
		},
		Lnurl: Lnurl{
			CallbackURL:    env.GetEnv("LNURL_CALLBACK_URL", "http://localhost:4000/api/v1/lnurl/callback"),
			ChallengeTTL:   env.GetDuration("LNURL_CHALLENGE_TTL", 5*time.Minute),
			ReservedPrefix: env.GetEnv("LNURL_RESERVED_PREFIX", "anon"),
		},
		Lock: Lock{
			Backend: strings.ToLower(env.GetEnv("LOCK_BACKEND", "local")),
			TTL:     env.GetDuration("LOCK_TTL", 10*time.Second),
		},
		RateLimit: RateLimit{
			Max:        env.GetInt("RATE_LIMIT_MAX", 60),
			Window:     env.GetDuration("RATE_LIMIT_WINDOW", time.Minute),
			RedisStore: env.GetBool("RATE_LIMIT_REDIS", true),
		},
	}

	presenceSecret := env.GetEnv("PRESENCE_SECRET", "")
	if presenceSecret != "" {
		cfg.Presence.Secret = []byte(presenceSecret)
	} else if appSecret != "" {
		derived, err := DeriveSecret(appSecret, "localboard/presence-token")
		if err != nil {
			return nil, err
		}
		cfg.Presence.Secret = derived
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and backend specific requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	switch c.Payments.Backend {
	case BackendOpenNode:
		if strings.TrimSpace(c.Payments.OpenNode.APIKey) == "" {
			return fmt.Errorf("invalid configuration: OPENNODE_API_KEY is required for the opennode backend")
		}
	case BackendLNbits:
		if strings.TrimSpace(c.Payments.LNbits.BaseURL) == "" || strings.TrimSpace(c.Payments.LNbits.InvoiceKey) == "" {
			return fmt.Errorf("invalid configuration: LNBITS_BASE_URL and LNBITS_INVOICE_KEY are required for the lnbits backend")
		}
	}
	return nil
}

// DeriveSecret expands the application secret into a purpose bound 32 byte key.
func DeriveSecret(master, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(master), nil, []byte(info))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive %s: %w", info, err)
	}
	return out, nil
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/LocalBoard/internal/pkg/env"
)

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	prev := env.Env
	env.Env = values
	t.Cleanup(func() { env.Env = prev })
}

func TestLoad_Defaults(t *testing.T) {
	withEnv(t, map[string]string{
		"APP_SECRET": "0123456789abcdef0123",
		"DB_DRIVER":  "sqlite",
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMock, cfg.Payments.Backend)
	assert.Equal(t, 120*time.Second, cfg.Presence.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Lnurl.ChallengeTTL)
	assert.Equal(t, int64(1000), cfg.Pricing.SponsorBaseSats)
	assert.Len(t, cfg.Presence.Secret, 32)
}

func TestLoad_ExplicitPresenceSecretWins(t *testing.T) {
	withEnv(t, map[string]string{
		"APP_SECRET":      "0123456789abcdef0123",
		"PRESENCE_SECRET": "presence-secret",
		"DB_DRIVER":       "sqlite",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []byte("presence-secret"), cfg.Presence.Secret)
}

func TestLoad_RejectsMissingSecret(t *testing.T) {
	withEnv(t, map[string]string{"DB_DRIVER": "sqlite"})

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_OpenNodeRequiresAPIKey(t *testing.T) {
	withEnv(t, map[string]string{
		"APP_SECRET":      "0123456789abcdef0123",
		"DB_DRIVER":       "sqlite",
		"PAYMENT_BACKEND": "opennode",
	})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OPENNODE_API_KEY")
}

func TestDeriveSecret_IsDeterministicPerInfo(t *testing.T) {
	a, err := DeriveSecret("master", "one")
	require.NoError(t, err)
	b, err := DeriveSecret("master", "one")
	require.NoError(t, err)
	c, err := DeriveSecret("master", "two")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

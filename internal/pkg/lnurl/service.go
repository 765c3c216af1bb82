// Package lnurl implements LNURL-auth: a wallet signs a one-time challenge
// with its linking key and the device gets a durable pseudonymous identity.
package lnurl

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LocalBoard/app/models"
	"github.com/ManuelReschke/LocalBoard/app/repository"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/config"
	"github.com/ManuelReschke/LocalBoard/internal/pkg/metrics"
)

const maxPseudonymAttempts = 20

// Challenge is what the device shows to the wallet.
type Challenge struct {
	K1        string    `json:"k1"`
	LNURL     string    `json:"lnurl"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	repo   Repository
	collab *repository.Repositories
	cfg    config.Lnurl
	now    func() time.Time
}

func NewService(db *gorm.DB, cfg config.Lnurl) *Service {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return &Service{
		repo:   NewRepository(db),
		collab: repository.NewRepositories(db),
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) enabled(ctx context.Context) error {
	flags, err := s.collab.WithContext(ctx).Setting.Flags()
	if err != nil {
		return apperror.Internal("could not load feature flags", err)
	}
	if !flags.LnurlAuthEnabled {
		return apperror.Forbidden("feature_disabled", "wallet login is disabled")
	}
	return nil
}

// CreateChallenge stores a fresh k1 for the device.
func (s *Service) CreateChallenge(ctx context.Context, deviceSessionID string) (*Challenge, error) {
	if err := s.enabled(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(deviceSessionID) == "" {
		return nil, apperror.Unauthorized("missing_device_session", "device session is required")
	}
	ok, err := s.collab.WithContext(ctx).Session.Exists(deviceSessionID)
	if err != nil {
		return nil, apperror.Internal("could not load device session", err)
	}
	if !ok {
		return nil, apperror.Unauthorized("unknown_device_session", "device session not found")
	}

	k1, err := newK1()
	if err != nil {
		return nil, apperror.Internal("could not create challenge", err)
	}
	challenge := &models.LnurlChallenge{
		K1:              k1,
		DeviceSessionID: deviceSessionID,
		Status:          models.ChallengeStatusPending,
		ExpiresAt:       s.now().Add(s.cfg.ChallengeTTL),
	}
	if err := s.repo.WithContext(ctx).CreateChallenge(challenge); err != nil {
		return nil, apperror.Internal("could not store challenge", err)
	}

	loginURL := LoginURL(s.cfg.CallbackURL, k1)
	encoded, err := Encode(loginURL)
	if err != nil {
		return nil, apperror.Internal("could not encode lnurl", err)
	}
	return &Challenge{K1: k1, LNURL: encoded, URL: loginURL, ExpiresAt: challenge.ExpiresAt}, nil
}

// ChallengeStatus lets the device poll its challenge. A pending challenge past
// its expiry is moved to expired on read.
func (s *Service) ChallengeStatus(ctx context.Context, k1 string) (*models.LnurlChallenge, error) {
	repo := s.repo.WithContext(ctx)
	challenge, err := s.loadChallenge(repo, k1)
	if err != nil {
		return nil, err
	}
	if challenge.Status == models.ChallengeStatusPending && !s.now().Before(challenge.ExpiresAt) {
		if _, err := repo.TransitionChallenge(challenge.K1, models.ChallengeStatusExpired, nil); err != nil {
			return nil, apperror.Internal("could not expire challenge", err)
		}
		return repo.GetChallenge(challenge.K1)
	}
	return challenge, nil
}

func (s *Service) loadChallenge(repo Repository, k1 string) (*models.LnurlChallenge, error) {
	k1 = strings.ToLower(strings.TrimSpace(k1))
	if raw, err := hex.DecodeString(k1); err != nil || len(raw) != 32 {
		return nil, apperror.Validation("invalid_k1", "k1 must be 32 bytes of hex")
	}
	challenge, err := repo.GetChallenge(k1)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("challenge_not_found", "challenge not found")
		}
		return nil, apperror.Internal("could not load challenge", err)
	}
	return challenge, nil
}

// Verify checks a wallet's answer to a challenge and logs the device into the
// identity of the linking key. A challenge is accepted at most once.
func (s *Service) Verify(ctx context.Context, k1, sigHex, keyHex string) (*models.LnurlIdentity, error) {
	identity, err := s.verify(ctx, k1, sigHex, keyHex)
	if err != nil {
		metrics.RecordLnurl(apperror.KindOf(err).String())
		return nil, err
	}
	metrics.RecordLnurl("verified")
	return identity, nil
}

func (s *Service) verify(ctx context.Context, k1, sigHex, keyHex string) (*models.LnurlIdentity, error) {
	if err := s.enabled(ctx); err != nil {
		return nil, err
	}
	repo := s.repo.WithContext(ctx)
	challenge, err := s.loadChallenge(repo, k1)
	if err != nil {
		return nil, err
	}
	if challenge.Status != models.ChallengeStatusPending {
		return nil, apperror.Conflict("challenge_not_pending", "challenge was already used or expired")
	}
	if !s.now().Before(challenge.ExpiresAt) {
		if _, err := repo.TransitionChallenge(challenge.K1, models.ChallengeStatusExpired, nil); err != nil {
			return nil, apperror.Internal("could not expire challenge", err)
		}
		return nil, apperror.Unauthorized("challenge_expired", "challenge expired")
	}

	key, err := parseLinkingKey(keyHex)
	if err != nil {
		return nil, err
	}
	if err := verifySignature(challenge.K1, sigHex, key); err != nil {
		log.Warnf("[LNURL] Rejected signature for challenge %s...", challenge.K1[:8])
		return nil, err
	}

	linkingKey := hex.EncodeToString(key.SerializeCompressed())
	now := s.now()
	var identity *models.LnurlIdentity
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		found, err := tx.GetIdentityByKey(linkingKey)
		switch {
		case err == nil:
			identity = found
		case errors.Is(err, gorm.ErrRecordNotFound):
			identity, err = createIdentity(tx, linkingKey)
			if err != nil {
				return err
			}
		default:
			return err
		}

		ok, err := tx.TransitionChallenge(challenge.K1, models.ChallengeStatusVerified, &identity.ID)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.Conflict("challenge_not_pending", "challenge was already used or expired")
		}
		if err := tx.UpdateIdentity(identity.ID, map[string]interface{}{"last_login_at": now}); err != nil {
			return err
		}
		identity.LastLoginAt = &now
		return tx.LinkDevice(identity.ID, challenge.DeviceSessionID)
	})
	if err != nil {
		if apperror.KindOf(err) != apperror.KindInternal {
			return nil, err
		}
		return nil, apperror.Internal("could not complete login", err)
	}

	log.Infof("[LNURL] Identity %d logged in on a device", identity.ID)
	return identity, nil
}

// parseLinkingKey only accepts a compressed point, and checks the shape before
// any curve arithmetic.
func parseLinkingKey(keyHex string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil || len(raw) != secp256k1.PubKeyBytesLenCompressed ||
		(raw[0] != secp256k1.PubKeyFormatCompressedEven && raw[0] != secp256k1.PubKeyFormatCompressedOdd) {
		return nil, apperror.Validation("invalid_linking_key", "linking key must be a compressed secp256k1 public key")
	}
	key, err := secp256k1.ParsePubKey(raw)
	if err != nil {
		return nil, apperror.Validation("invalid_linking_key", "linking key is not on the curve")
	}
	return key, nil
}

func verifySignature(k1Hex, sigHex string, key *secp256k1.PublicKey) error {
	k1, err := hex.DecodeString(k1Hex)
	if err != nil {
		return apperror.Validation("invalid_k1", "k1 must be 32 bytes of hex")
	}
	der, err := hex.DecodeString(strings.TrimSpace(sigHex))
	if err != nil {
		return apperror.Unauthorized("invalid_signature", "signature is not hex")
	}
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return apperror.Unauthorized("invalid_signature", "signature is not DER encoded")
	}
	if !sig.Verify(k1, key) {
		return apperror.Unauthorized("invalid_signature", "signature does not match")
	}
	return nil
}

func createIdentity(tx Repository, linkingKey string) (*models.LnurlIdentity, error) {
	for attempt := 0; attempt < maxPseudonymAttempts; attempt++ {
		nym := Pseudonym(linkingKey, attempt)
		taken, err := tx.AnonNymTaken(nym)
		if err != nil {
			return nil, err
		}
		if taken {
			continue
		}
		identity := &models.LnurlIdentity{LinkingKey: linkingKey, AnonNym: nym}
		if err := tx.CreateIdentity(identity); err != nil {
			return nil, err
		}
		return identity, nil
	}
	return nil, errors.New("no free pseudonym")
}

// GetIdentity returns the identity linked to the device.
func (s *Service) GetIdentity(ctx context.Context, deviceSessionID string) (*models.LnurlIdentity, error) {
	identity, err := s.repo.WithContext(ctx).GetIdentityByDevice(deviceSessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperror.NotFound("identity_not_found", "no identity linked to this device")
		}
		return nil, apperror.Internal("could not load identity", err)
	}
	return identity, nil
}

// UpdateDisplayName sets the custom name of the device's identity. Names are
// unique regardless of case.
func (s *Service) UpdateDisplayName(ctx context.Context, deviceSessionID, name string) (*models.LnurlIdentity, error) {
	name = strings.TrimSpace(name)
	if err := ValidateDisplayName(name, s.cfg.ReservedPrefix); err != nil {
		return nil, err
	}
	identity, err := s.GetIdentity(ctx, deviceSessionID)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(name)
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		taken, err := tx.DisplayNameTaken(lower, identity.ID)
		if err != nil {
			return err
		}
		if taken {
			return apperror.Conflict("display_name_taken", "display name is already taken")
		}
		return tx.UpdateIdentity(identity.ID, map[string]interface{}{
			"display_name":       name,
			"display_name_lower": lower,
		})
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindConflict {
			return nil, err
		}
		// the unique index catches a concurrent rename that passed the check
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, apperror.Conflict("display_name_taken", "display name is already taken")
		}
		return nil, apperror.Internal("could not update display name", err)
	}

	identity.DisplayName = &name
	identity.DisplayNameLower = &lower
	return identity, nil
}

// Unlink detaches the device from its identity. The identity itself is kept.
func (s *Service) Unlink(ctx context.Context, deviceSessionID string) error {
	n, err := s.repo.WithContext(ctx).UnlinkDevice(deviceSessionID)
	if err != nil {
		return apperror.Internal("could not unlink identity", err)
	}
	if n == 0 {
		return apperror.NotFound("identity_not_found", "no identity linked to this device")
	}
	return nil
}

package presence

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// DefaultTTL bounds how long a proximity claim stays fresh.
const DefaultTTL = 120 * time.Second

type Reason string

const (
	ReasonMalformed    Reason = "malformed"
	ReasonExpired      Reason = "expired"
	ReasonBadSignature Reason = "bad_signature"
)

// Payload is the signed part of a presence token.
// Field order is the canonical encoding order.
type Payload struct {
	DeviceSessionID string  `json:"device_session_id"`
	LocationID      uint    `json:"location_id"`
	LocationSlug    string  `json:"location_slug"`
	IssuedAtMs      int64   `json:"issued_at_ms"`
	AccuracyM       float64 `json:"accuracy_m"`
}

// IssuedAt returns the issue time of the payload.
func (p Payload) IssuedAt() time.Time {
	return time.UnixMilli(p.IssuedAtMs)
}

type wireToken struct {
	Payload
	SignatureHex string `json:"signature_hex"`
}

// Verification is the typed result of Verify. Verify never returns an error.
type Verification struct {
	Valid   bool
	Payload *Payload
	Reason  Reason
}

type Service struct {
	secret []byte
	ttl    time.Duration
}

func NewService(secret []byte, ttl time.Duration) (*Service, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret is required for presence tokens")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{secret: secret, ttl: ttl}, nil
}

func (s *Service) TTL() time.Duration { return s.ttl }

// Issue signs a presence claim for a device at a location.
func (s *Service) Issue(deviceSessionID string, locationID uint, locationSlug string, accuracyM float64, now time.Time) (string, error) {
	if strings.TrimSpace(deviceSessionID) == "" || locationID == 0 {
		return "", errors.New("device session and location are required")
	}
	p := Payload{
		DeviceSessionID: deviceSessionID,
		LocationID:      locationID,
		LocationSlug:    locationSlug,
		IssuedAtMs:      now.UnixMilli(),
		AccuracyM:       accuracyM,
	}
	sig, err := s.sign(p)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(wireToken{Payload: p, SignatureHex: sig})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Verify checks encoding, signature and age of a token at time now.
func (s *Service) Verify(token string, now time.Time) Verification {
	raw, ok := decodeBase64(strings.TrimSpace(token))
	if !ok {
		return Verification{Reason: ReasonMalformed}
	}

	var w wireToken
	if err := json.Unmarshal(raw, &w); err != nil {
		return Verification{Reason: ReasonMalformed}
	}
	if w.DeviceSessionID == "" || w.LocationID == 0 || w.IssuedAtMs <= 0 || w.SignatureHex == "" {
		return Verification{Reason: ReasonMalformed}
	}

	if _, err := hex.DecodeString(w.SignatureHex); err != nil {
		return Verification{Reason: ReasonMalformed}
	}

	// The signed bytes must be exactly the bytes received. encoding/json
	// matches keys case-insensitively and skips unknown keys, so any other
	// spelling of the same payload is rejected here.
	canonical, err := json.Marshal(w)
	if err != nil || !bytes.Equal(canonical, raw) {
		return Verification{Reason: ReasonBadSignature}
	}
	expected, err := s.sign(w.Payload)
	if err != nil {
		return Verification{Reason: ReasonMalformed}
	}
	if !hmac.Equal([]byte(w.SignatureHex), []byte(expected)) {
		return Verification{Reason: ReasonBadSignature}
	}

	age := now.Sub(w.IssuedAt())
	if age < 0 {
		// only this server mints tokens, so a future timestamp was never issued by it
		return Verification{Reason: ReasonMalformed}
	}
	if age >= s.ttl {
		return Verification{Reason: ReasonExpired}
	}

	p := w.Payload
	return Verification{Valid: true, Payload: &p}
}

func (s *Service) sign(p Payload) (string, error) {
	sum, err := s.mac(p)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

func (s *Service) mac(p Payload) ([]byte, error) {
	canonical, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical)
	return mac.Sum(nil), nil
}

func decodeBase64(s string) ([]byte, bool) {
	if s == "" {
		return nil, false
	}
	// strict decoding rejects non-zero trailing bits, so two encodings never map to one token
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding.Strict(),
		base64.URLEncoding.Strict(),
		base64.StdEncoding.Strict(),
		base64.RawStdEncoding.Strict(),
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, true
		}
	}
	return nil, false
}

package lnurl

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/bech32"
)

const hrp = "lnurl"

// Encode returns the bech32 LNURL form of rawURL, upper-cased for QR codes.
func Encode(rawURL string) (string, error) {
	conv, err := bech32.ConvertBits([]byte(rawURL), 8, 5, true)
	if err != nil {
		return "", err
	}
	s, err := bech32.Encode(hrp, conv)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(s), nil
}

// Decode reverses Encode. LNURL strings are longer than the 90 characters
// plain bech32 allows, so no length limit is applied.
func Decode(lnurl string) (string, error) {
	prefix, data, err := bech32.DecodeNoLimit(strings.ToLower(strings.TrimSpace(lnurl)))
	if err != nil {
		return "", err
	}
	if prefix != hrp {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// LoginURL is the callback a wallet calls to answer challenge k1.
func LoginURL(callback, k1 string) string {
	sep := "?"
	if strings.Contains(callback, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%stag=login&k1=%s&action=login", callback, sep, k1)
}

func newK1() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

package shortener

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// claimAlphabet drops characters that are easy to misread on a printed receipt.
const claimAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateClaimCode returns a code like "LB-7K3M-Q9XA" that a merchant quotes
// when their claim is checked.
func GenerateClaimCode() (string, error) {
	raw, err := generate(claimAlphabet, 8)
	if err != nil {
		return "", err
	}
	return "LB-" + raw[:4] + "-" + raw[4:], nil
}

// NormalizeClaimCode upper-cases a user typed code and restores the dashes.
func NormalizeClaimCode(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	c = strings.ReplaceAll(c, "-", "")
	// codes typed without the prefix can start with "LB" themselves
	if len(c) == 10 && strings.HasPrefix(c, "LB") {
		c = c[2:]
	}
	if len(c) != 8 {
		return ""
	}
	return "LB-" + c[:4] + "-" + c[4:]
}

func generate(chars string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid slug length: %d", length)
	}

	// Rejection sampling to avoid modulo bias.
	maxRandomByte := 256 - (256 % len(chars))

	slug := make([]byte, length)
	buf := make([]byte, length*2)
	written := 0

	for written < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}

		for _, b := range buf {
			if int(b) >= maxRandomByte {
				continue
			}
			slug[written] = chars[int(b)%len(chars)]
			written++
			if written == length {
				break
			}
		}
	}

	return string(slug), nil
}

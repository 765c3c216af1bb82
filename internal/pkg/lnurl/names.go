package lnurl

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"

	"github.com/ManuelReschke/LocalBoard/internal/pkg/apperror"
)

const MaxDisplayNameLength = 30

var displayNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,30}$`)

var adjectives = []string{
	"Amber", "Brave", "Calm", "Clever", "Cosmic", "Dusty", "Eager", "Fuzzy",
	"Gentle", "Happy", "Hidden", "Jolly", "Lucky", "Mellow", "Misty", "Nimble",
	"Quiet", "Rapid", "Rusty", "Silent", "Sunny", "Swift", "Tidy", "Wild",
}

var animals = []string{
	"Badger", "Beaver", "Bison", "Crane", "Falcon", "Ferret", "Fox", "Gecko",
	"Heron", "Ibis", "Koala", "Lynx", "Marten", "Moose", "Newt", "Otter",
	"Owl", "Panda", "Quail", "Raven", "Seal", "Stoat", "Walrus", "Wren",
}

// Pseudonym derives the default name of a linking key. Attempt 0 is the
// canonical name; later attempts pick other numbers for collisions.
func Pseudonym(linkingKey string, attempt int) string {
	h := sha256.Sum256([]byte(strings.ToLower(linkingKey)))
	adj := adjectives[int(h[0])%len(adjectives)]
	animal := animals[int(h[1])%len(animals)]

	off := 2 + (attempt%15)*2
	n := binary.BigEndian.Uint16(h[off:off+2]) % 10000
	if attempt >= 15 {
		return fmt.Sprintf("%s%s%04d%d", adj, animal, n, attempt)
	}
	return fmt.Sprintf("%s%s%04d", adj, animal, n)
}

// ValidateDisplayName checks the shape of a custom name. Uniqueness is
// checked against the store separately.
func ValidateDisplayName(name, reservedPrefix string) error {
	if name == "" || len(name) > MaxDisplayNameLength {
		return apperror.Validation("invalid_display_name", "display name must be 1-30 characters")
	}
	if !displayNamePattern.MatchString(name) {
		return apperror.Validation("invalid_display_name", "display name may only contain letters, digits and underscores")
	}
	if strings.HasPrefix(name, "_") || strings.HasSuffix(name, "_") {
		return apperror.Validation("invalid_display_name", "display name must not start or end with an underscore")
	}
	if reservedPrefix != "" && strings.HasPrefix(strings.ToLower(name), strings.ToLower(reservedPrefix)) {
		return apperror.Validation("reserved_display_name", fmt.Sprintf("display names starting with %q are reserved", reservedPrefix))
	}
	return nil
}

package service

import (
	"encoding/hex"

	"statement-converter/internal/models"

	"golang.org/x/crypto/blake2b"
)

const unknownClientAddress = "unknown"

// IdentityResolver derives the opaque quota key for a caller. Raw user ids and addresses never
// leave this type.
type IdentityResolver struct {
	key [32]byte
}

// NewIdentityResolver keys the identifier hash with salt. Changing the salt resets every
// counter.
func NewIdentityResolver(salt string) *IdentityResolver {
	return &IdentityResolver{key: blake2b.Sum256([]byte(salt))}
}

// Resolve returns an authenticated identity when subjectID is set and an anonymous,
// address-keyed one otherwise.
func (r *IdentityResolver) Resolve(subjectID, clientAddress string) models.Identity {
	if subjectID != "" {
		return models.Identity{Tier: models.TierAuthenticated, Key: r.hash("user:" + subjectID)}
	}
	if clientAddress == "" {
		clientAddress = unknownClientAddress
	}
	return models.Identity{Tier: models.TierAnonymous, Key: r.hash("ip:" + clientAddress)}
}

func (r *IdentityResolver) hash(value string) string {
	h, _ := blake2b.New256(r.key[:])
	h.Write([]byte(value))
	return hex.EncodeToString(h.Sum(nil))
}

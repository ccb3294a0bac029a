// Package auth implements the credential store: hash-indexed bearer
// token generation and validation.
//
// Plaintext format: a prefix label (clw_agent_ / clw_sender_) concatenated
// with a base-62 encoding of 32 cryptographically random bytes. Only
// sha256(plaintext) is ever persisted; the plaintext is returned to the
// caller exactly once, at generation time.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const (
	prefixAgent  = "clw_agent_"
	prefixSender = "clw_sender_"

	rawKeyBytes = 32
	keyPrefixLen = 16
)

// KeyStore is the subset of the persistent store the credential store
// needs. Implemented by *db.Database.
type KeyStore interface {
	InsertAPIKey(ctx context.Context, key *models.ApiKey) error
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.ApiKey, error)
}

func base62Encode(b []byte) string {
	n := new(big.Int).SetBytes(b)
	if n.Sign() == 0 {
		return string(base62Alphabet[0])
	}
	base := big.NewInt(int64(len(base62Alphabet)))
	mod := new(big.Int)
	var out []byte
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		out = append([]byte{base62Alphabet[mod.Int64()]}, out...)
	}
	return string(out)
}

func hashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func prefixForOwnerType(ownerType string) (string, error) {
	switch ownerType {
	case models.OwnerTypeAgent:
		return prefixAgent, nil
	case models.OwnerTypeSender:
		return prefixSender, nil
	default:
		return "", fmt.Errorf("unknown owner type %q", ownerType)
	}
}

// Generate mints a new credential for the given owner and persists its
// hash via store. Returns the plaintext (shown once) and the stored row.
func Generate(ctx context.Context, store KeyStore, ownerType, ownerID string, scopes []string, expiresAt *time.Time) (string, *models.ApiKey, error) {
	label, err := prefixForOwnerType(ownerType)
	if err != nil {
		return "", nil, apperrors.InternalServer(err.Error())
	}

	raw := make([]byte, rawKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, apperrors.InternalServer("failed to generate random key material")
	}

	plaintext := label + base62Encode(raw)
	prefix := plaintext
	if len(prefix) > keyPrefixLen {
		prefix = prefix[:keyPrefixLen]
	}

	key := &models.ApiKey{
		KeyHash:   hashKey(plaintext),
		KeyPrefix: prefix,
		OwnerType: ownerType,
		OwnerID:   ownerID,
		Scopes:    models.Scopes(scopes),
		ExpiresAt: expiresAt,
	}

	if err := store.InsertAPIKey(ctx, key); err != nil {
		return "", nil, err
	}

	return plaintext, key, nil
}

// Validate computes sha256(plaintext), looks the row up by hash, and
// returns the resolved AuthContext. Returns errors.AuthInvalid when the key
// is missing, revoked, or expired — the store query itself filters those
// out, so any miss is indistinguishable from "never existed" by design.
func Validate(ctx context.Context, store KeyStore, plaintext string) (*models.AuthContext, error) {
	if plaintext == "" {
		return nil, apperrors.AuthMissing()
	}

	hash := hashKey(plaintext)
	key, err := store.GetAPIKeyByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, apperrors.AuthInvalid()
	}

	return &models.AuthContext{
		OwnerType: key.OwnerType,
		OwnerID:   key.OwnerID,
		Scopes:    key.Scopes,
		KeyID:     key.ID,
	}, nil
}

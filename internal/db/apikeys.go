package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/morioust/clawcierge/internal/errors"
	"github.com/morioust/clawcierge/internal/models"
)

// InsertAPIKey persists a credential row. The caller (internal/auth) has
// already hashed the plaintext; this layer never sees it.
func (d *Database) InsertAPIKey(ctx context.Context, key *models.ApiKey) error {
	key.ID = uuid.New().String()
	row := d.db.QueryRowContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, owner_type, owner_id, scopes, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		key.ID, key.KeyHash, key.KeyPrefix, key.OwnerType, key.OwnerID, key.Scopes, key.ExpiresAt)
	if err := row.Scan(&key.CreatedAt); err != nil {
		return apperrors.DatabaseError(err)
	}
	return nil
}

// GetAPIKeyByHash looks up a non-revoked, non-expired credential by its
// SHA-256 hash. Returns nil, nil when no such row exists so callers can
// distinguish "invalid" from a transport error.
func (d *Database) GetAPIKeyByHash(ctx context.Context, hash string) (*models.ApiKey, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, key_hash, key_prefix, owner_type, owner_id, scopes, expires_at, revoked_at, created_at
		 FROM api_keys
		 WHERE key_hash = $1 AND revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > now())`,
		hash)

	key := &models.ApiKey{}
	err := row.Scan(&key.ID, &key.KeyHash, &key.KeyPrefix, &key.OwnerType, &key.OwnerID,
		&key.Scopes, &key.ExpiresAt, &key.RevokedAt, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.DatabaseError(err)
	}
	return key, nil
}

// RevokeAPIKey marks a credential revoked; revocation is not required by
// the submit/auth path but is exposed for operator tooling.
func (d *Database) RevokeAPIKey(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return apperrors.DatabaseError(err)
	}
	return nil
}

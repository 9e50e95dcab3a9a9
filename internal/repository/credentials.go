package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
)

const credentialColumns = `id, device_id, profile_id, username, secret, comment, active, last_seen_online, created_at`

// GetCredential loads a credential
func (q *queries) GetCredential(ctx context.Context, id uuid.UUID) (*db.Credential, error) {
	c, err := scanCredential(q.db.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get credential %s: %w", id, mapError(err))
	}
	return c, nil
}

// FindCredentialByUsername looks a credential up by its device-scoped username
func (q *queries) FindCredentialByUsername(ctx context.Context, deviceID uuid.UUID, username string) (*db.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE device_id = $1 AND username = $2`

	c, err := scanCredential(q.db.QueryRow(ctx, query, deviceID, username))
	if err != nil {
		return nil, fmt.Errorf("failed to find credential %q: %w", username, mapError(err))
	}
	return c, nil
}

func scanCredential(row pgx.Row) (*db.Credential, error) {
	var c db.Credential
	err := row.Scan(
		&c.ID,
		&c.DeviceID,
		&c.ProfileID,
		&c.Username,
		&c.Secret,
		&c.Comment,
		&c.Active,
		&c.LastSeenOnline,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// InsertCredential stores a new credential. A username already taken on the
// same device fails with ErrDuplicate.
func (q *queries) InsertCredential(ctx context.Context, c *db.Credential) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	query := `
		INSERT INTO credentials (id, device_id, profile_id, username, secret, comment, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := q.db.QueryRow(ctx, query,
		c.ID,
		c.DeviceID,
		c.ProfileID,
		c.Username,
		c.Secret,
		c.Comment,
		c.Active,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert credential %q: %w", c.Username, mapError(err))
	}
	return nil
}

// UpdateCredentialSecret replaces the stored secret
func (q *queries) UpdateCredentialSecret(ctx context.Context, id uuid.UUID, secret string) error {
	tag, err := q.db.Exec(ctx, `UPDATE credentials SET secret = $2 WHERE id = $1`, id, secret)
	if err != nil {
		return fmt.Errorf("failed to update credential secret: %w", mapError(err))
	}
	return expectOne(tag)
}

// UpdateCredentialProfile moves a credential to another profile
func (q *queries) UpdateCredentialProfile(ctx context.Context, id, profileID uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `UPDATE credentials SET profile_id = $2 WHERE id = $1`, id, profileID)
	if err != nil {
		return fmt.Errorf("failed to update credential profile: %w", mapError(err))
	}
	return expectOne(tag)
}

// TouchCredentialSeen records the last time the credential had a live session
func (q *queries) TouchCredentialSeen(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := q.db.Exec(ctx, `UPDATE credentials SET last_seen_online = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch credential: %w", mapError(err))
	}
	return expectOne(tag)
}

// DeleteCredential removes a credential. Credentials still attached to a
// contract fail with ErrReferenced.
func (q *queries) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM credentials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete credential %s: %w", id, mapError(err))
	}
	return expectOne(tag)
}

package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
)

const profileColumns = `id, device_id, name, download_bits_per_second, upload_bits_per_second, session_timeout_seconds, active, created_at, updated_at`

// GetProfile loads a bandwidth profile
func (q *queries) GetProfile(ctx context.Context, id uuid.UUID) (*db.BandwidthProfile, error) {
	p, err := scanProfile(q.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM bandwidth_profiles WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", id, mapError(err))
	}
	return p, nil
}

// FindProfileByName looks a profile up by its device-scoped name
func (q *queries) FindProfileByName(ctx context.Context, deviceID uuid.UUID, name string) (*db.BandwidthProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM bandwidth_profiles WHERE device_id = $1 AND name = $2`

	p, err := scanProfile(q.db.QueryRow(ctx, query, deviceID, name))
	if err != nil {
		return nil, fmt.Errorf("failed to find profile %q: %w", name, mapError(err))
	}
	return p, nil
}

func scanProfile(row pgx.Row) (*db.BandwidthProfile, error) {
	var p db.BandwidthProfile
	err := row.Scan(
		&p.ID,
		&p.DeviceID,
		&p.Name,
		&p.DownloadBitsPerSecond,
		&p.UploadBitsPerSecond,
		&p.SessionTimeoutSeconds,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// InsertProfile stores a new profile. ID and timestamps are assigned when
// missing.
func (q *queries) InsertProfile(ctx context.Context, p *db.BandwidthProfile) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	query := `
		INSERT INTO bandwidth_profiles (
			id, device_id, name, download_bits_per_second, upload_bits_per_second,
			session_timeout_seconds, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := q.db.QueryRow(ctx, query,
		p.ID,
		p.DeviceID,
		p.Name,
		p.DownloadBitsPerSecond,
		p.UploadBitsPerSecond,
		p.SessionTimeoutSeconds,
		p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert profile %q: %w", p.Name, mapError(err))
	}
	return nil
}

// UpdateProfile writes every mutable profile field
func (q *queries) UpdateProfile(ctx context.Context, p *db.BandwidthProfile) error {
	query := `
		UPDATE bandwidth_profiles
		SET name = $2,
			download_bits_per_second = $3,
			upload_bits_per_second = $4,
			session_timeout_seconds = $5,
			active = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := q.db.QueryRow(ctx, query,
		p.ID,
		p.Name,
		p.DownloadBitsPerSecond,
		p.UploadBitsPerSecond,
		p.SessionTimeoutSeconds,
		p.Active,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update profile %s: %w", p.ID, mapError(err))
	}
	return nil
}

// DeleteProfile removes a profile. Profiles still used by credentials or
// plans fail with ErrReferenced.
func (q *queries) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM bandwidth_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", id, mapError(err))
	}
	return expectOne(tag)
}

// Package outbox records device mutations next to the local change that
// requires them and relays them to the broker once that change is committed.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
)

// Task kinds
const (
	KindContractStatus   = "contract.status_changed"
	KindCredentialUpdate = "credential.update"
	KindProfileCreate    = "profile.create"
	KindProfileUpdate    = "profile.update"
	KindProfileDelete    = "profile.delete"
)

// RoutingKeyPrefix is prepended to a task kind to form its routing key
const RoutingKeyPrefix = "device."

// RoutingKey returns the broker routing key of a task kind
func RoutingKey(kind string) string {
	return RoutingKeyPrefix + kind
}

// StatusChanged asks the worker to enable or disable the contract's
// credential to match Status
type StatusChanged struct {
	ContractID   uuid.UUID         `json:"contract_id"`
	CredentialID uuid.UUID         `json:"credential_id"`
	Previous     db.ContractStatus `json:"previous"`
	Status       db.ContractStatus `json:"status"`
}

// CredentialUpdate asks the worker to push the credential's current profile
// and secret to the device
type CredentialUpdate struct {
	CredentialID uuid.UUID `json:"credential_id"`
}

// ProfileSnapshot is a profile as it stood when a task was queued. Profile
// tasks replay snapshots in queue order, so each one finds the device object
// under the name the previous task left it with.
type ProfileSnapshot struct {
	Name                  string `json:"name"`
	DownloadBitsPerSecond int64  `json:"download_bps"`
	UploadBitsPerSecond   int64  `json:"upload_bps"`
	SessionTimeoutSeconds int64  `json:"session_timeout_s"`
	Active                bool   `json:"active"`
}

// SnapshotOf captures p
func SnapshotOf(p *db.BandwidthProfile) ProfileSnapshot {
	return ProfileSnapshot{
		Name:                  p.Name,
		DownloadBitsPerSecond: p.DownloadBitsPerSecond,
		UploadBitsPerSecond:   p.UploadBitsPerSecond,
		SessionTimeoutSeconds: p.SessionTimeoutSeconds,
		Active:                p.Active,
	}
}

// Local rebuilds the profile row the snapshot was taken from
func (s ProfileSnapshot) Local(profileID, deviceID uuid.UUID) *db.BandwidthProfile {
	return &db.BandwidthProfile{
		ID:                    profileID,
		DeviceID:              deviceID,
		Name:                  s.Name,
		DownloadBitsPerSecond: s.DownloadBitsPerSecond,
		UploadBitsPerSecond:   s.UploadBitsPerSecond,
		SessionTimeoutSeconds: s.SessionTimeoutSeconds,
		Active:                s.Active,
	}
}

// ProfileCreate asks the worker to create the profile on its device
type ProfileCreate struct {
	ProfileID uuid.UUID       `json:"profile_id"`
	DeviceID  uuid.UUID       `json:"device_id"`
	Profile   ProfileSnapshot `json:"profile"`
}

// ProfileUpdate asks the worker to replace the device object known as
// PreviousName with Profile
type ProfileUpdate struct {
	ProfileID    uuid.UUID       `json:"profile_id"`
	DeviceID     uuid.UUID       `json:"device_id"`
	PreviousName string          `json:"previous_name"`
	Profile      ProfileSnapshot `json:"profile"`
}

// ProfileDelete asks the worker to remove a profile that no longer exists
// locally. Name is the last name queued for the device.
type ProfileDelete struct {
	DeviceID uuid.UUID `json:"device_id"`
	Name     string    `json:"name"`
}

// Envelope is the message body published for every task
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Enqueue records a task with q, normally inside the transaction that made
// the local change
func Enqueue(ctx context.Context, q repository.Queries, kind string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return q.EnqueueTask(ctx, &db.OutboxTask{Kind: kind, Payload: body})
}

// Decode parses a published envelope
func Decode(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid task envelope: %w", err)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("invalid task envelope: missing kind")
	}
	return &env, nil
}

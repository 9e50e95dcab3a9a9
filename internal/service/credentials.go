package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/device"
	"github.com/septivank/pppoe-provisioning-worker/internal/logging"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
	"go.uber.org/zap"
)

// CredentialService handles operator actions on single credentials
type CredentialService struct {
	store   repository.Store
	devices device.Provider
	logger  *zap.Logger
	now     func() time.Time
}

// NewCredentialService creates a new credential service
func NewCredentialService(store repository.Store, devices device.Provider, logger *zap.Logger) *CredentialService {
	return &CredentialService{
		store:   store,
		devices: devices,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns a credential with its secret in clear, for technicians
// configuring customer equipment
func (s *CredentialService) Get(ctx context.Context, id uuid.UUID) (*db.Credential, error) {
	return s.store.GetCredential(ctx, id)
}

// Delete removes a credential that no contract uses. The local row is
// deleted first, then the device object inside the same transaction; a device
// failure rolls the local delete back. A device object that is already gone
// counts as deleted.
func (s *CredentialService) Delete(ctx context.Context, id uuid.UUID) error {
	logger := s.logger.With(zap.String("credential_id", id.String()))

	var (
		username   string
		deviceGone bool
	)
	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		cred, err := q.GetCredential(ctx, id)
		if err != nil {
			return err
		}
		username = cred.Username

		if c, err := q.GetContractByCredential(ctx, id); err == nil {
			return fmt.Errorf("%w: contract %s", ErrCredentialAttached, c.ID)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if err := q.DeleteCredential(ctx, id); err != nil {
			return err
		}

		dev, err := q.GetDevice(ctx, cred.DeviceID)
		if err != nil {
			return err
		}
		adapter, err := s.devices.ForDevice(dev)
		if err != nil {
			return err
		}

		err = adapter.DeleteCredential(ctx, cred.Username)
		if err != nil && !errors.Is(err, device.ErrObjectNotFound) {
			return fmt.Errorf("failed to delete credential %q on device: %w", cred.Username, err)
		}
		deviceGone = true
		return nil
	})
	if err != nil {
		if deviceGone {
			logging.Drift(logger, "credential removed from device but kept locally", err,
				zap.String("kind", "credential.remove"),
				zap.String("username", username),
			)
		}
		return err
	}

	logger.Info("credential deleted", zap.String("username", username))
	return nil
}

// CheckSession looks the credential up in the device's active session table
// and stamps lastSeenOnline when it is connected. It returns nil when the
// credential is offline.
func (s *CredentialService) CheckSession(ctx context.Context, id uuid.UUID) (*device.Session, error) {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	dev, err := s.store.GetDevice(ctx, cred.DeviceID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.devices.ForDevice(dev)
	if err != nil {
		return nil, err
	}

	session, err := adapter.FindActiveSession(ctx, cred.Username)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}

	if err := s.store.TouchCredentialSeen(ctx, cred.ID, s.now()); err != nil {
		return nil, err
	}
	return session, nil
}

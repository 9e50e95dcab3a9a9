package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/outbox"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
	"github.com/septivank/pppoe-provisioning-worker/internal/validator"
	"go.uber.org/zap"
)

// ProfileService edits bandwidth profiles. Every edit commits locally first;
// the device follows through an outbox task, and a device failure there is
// logged as drift without touching the committed row.
type ProfileService struct {
	store      repository.Store
	validator  *validator.Validator
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewProfileService creates a new profile service
func NewProfileService(store repository.Store, v *validator.Validator, dispatcher Dispatcher, logger *zap.Logger) *ProfileService {
	return &ProfileService{
		store:      store,
		validator:  v,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Create stores a new profile on deviceID and schedules its device copy
func (s *ProfileService) Create(ctx context.Context, deviceID uuid.UUID, values validator.ProfileValues) (*db.BandwidthProfile, error) {
	if r := s.validator.ValidateProfileValues(values); !r.IsValid {
		return nil, validationError(r)
	}

	p := &db.BandwidthProfile{
		DeviceID:              deviceID,
		Name:                  values.Name,
		DownloadBitsPerSecond: values.DownloadBitsPerSecond,
		UploadBitsPerSecond:   values.UploadBitsPerSecond,
		SessionTimeoutSeconds: values.SessionTimeoutSeconds,
		Active:                true,
	}

	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		if _, err := q.GetDevice(ctx, deviceID); err != nil {
			return err
		}
		if err := q.InsertProfile(ctx, p); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, q, outbox.KindProfileCreate, outbox.ProfileCreate{
			ProfileID: p.ID,
			DeviceID:  p.DeviceID,
			Profile:   outbox.SnapshotOf(p),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("profile created",
		zap.String("profile_id", p.ID.String()),
		zap.String("profile", p.Name),
	)
	dispatch(ctx, s.dispatcher, s.logger)
	return p, nil
}

// Update renames or re-rates a profile. A name already used on the device
// fails here, before anything is scheduled for the device.
func (s *ProfileService) Update(ctx context.Context, id uuid.UUID, values validator.ProfileValues) (*db.BandwidthProfile, error) {
	if r := s.validator.ValidateProfileValues(values); !r.IsValid {
		return nil, validationError(r)
	}

	var p *db.BandwidthProfile
	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		current, err := q.GetProfile(ctx, id)
		if err != nil {
			return err
		}
		previousName := current.Name

		current.Name = values.Name
		current.DownloadBitsPerSecond = values.DownloadBitsPerSecond
		current.UploadBitsPerSecond = values.UploadBitsPerSecond
		current.SessionTimeoutSeconds = values.SessionTimeoutSeconds
		if err := q.UpdateProfile(ctx, current); err != nil {
			return err
		}
		p = current

		return outbox.Enqueue(ctx, q, outbox.KindProfileUpdate, outbox.ProfileUpdate{
			ProfileID:    current.ID,
			DeviceID:     current.DeviceID,
			PreviousName: previousName,
			Profile:      outbox.SnapshotOf(current),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("profile updated",
		zap.String("profile_id", p.ID.String()),
		zap.String("profile", p.Name),
	)
	dispatch(ctx, s.dispatcher, s.logger)
	return p, nil
}

// Delete removes a profile locally and then from the device. A profile still
// used by credentials or plans fails with repository.ErrReferenced and the
// device is never touched.
func (s *ProfileService) Delete(ctx context.Context, id uuid.UUID) error {
	var name string
	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		p, err := q.GetProfile(ctx, id)
		if err != nil {
			return err
		}
		if err := q.DeleteProfile(ctx, p.ID); err != nil {
			return err
		}
		name = p.Name

		return outbox.Enqueue(ctx, q, outbox.KindProfileDelete, outbox.ProfileDelete{
			DeviceID: p.DeviceID,
			Name:     p.Name,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("profile deleted",
		zap.String("profile_id", id.String()),
		zap.String("profile", name),
	)
	dispatch(ctx, s.dispatcher, s.logger)
	return nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/device"
	"github.com/septivank/pppoe-provisioning-worker/internal/drift"
	"github.com/septivank/pppoe-provisioning-worker/internal/logging"
	"github.com/septivank/pppoe-provisioning-worker/internal/mq"
	"github.com/septivank/pppoe-provisioning-worker/internal/outbox"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
	"go.uber.org/zap"
)

// errSkip marks a task that no longer applies
var errSkip = errors.New("task superseded")

// DeviceTaskProcessor applies committed outbox tasks to devices. A failed
// device call is logged as drift and returned, which dead-letters the
// message; nothing is retried and nothing local is rolled back.
type DeviceTaskProcessor struct {
	store   repository.Queries
	devices device.Provider
	logger  *zap.Logger
}

// NewDeviceTaskProcessor creates a new processor
func NewDeviceTaskProcessor(store repository.Queries, devices device.Provider, logger *zap.Logger) *DeviceTaskProcessor {
	return &DeviceTaskProcessor{
		store:   store,
		devices: devices,
		logger:  logger,
	}
}

// ProcessMessage handles one delivery from the task queue
func (p *DeviceTaskProcessor) ProcessMessage(ctx context.Context, d mq.Delivery) error {
	env, err := outbox.Decode(d.Body)
	if err != nil {
		p.logger.Error("discarding malformed task", zap.Error(err), zap.String("message_id", d.MessageID))
		return err
	}

	taskLogger := logging.WithRequestID(p.logger, env.ID.String()).With(zap.String("kind", env.Kind))
	taskLogger.Info("processing device task")

	object, err := p.apply(ctx, env, taskLogger)
	switch {
	case errors.Is(err, errSkip):
		taskLogger.Info("device task skipped", zap.String("object", object), zap.String("reason", err.Error()))
		return nil
	case err != nil:
		logging.Drift(taskLogger, "device task failed, device is out of sync", err, zap.String("object", object))
		return err
	}

	taskLogger.Info("device task applied", zap.String("object", object))
	return nil
}

// apply returns the device object name it worked on, for logging
func (p *DeviceTaskProcessor) apply(ctx context.Context, env *outbox.Envelope, logger *zap.Logger) (string, error) {
	switch env.Kind {
	case outbox.KindContractStatus:
		var t outbox.StatusChanged
		if err := decodePayload(env, &t); err != nil {
			return "", err
		}
		return p.applyStatus(ctx, t)

	case outbox.KindCredentialUpdate:
		var t outbox.CredentialUpdate
		if err := decodePayload(env, &t); err != nil {
			return "", err
		}
		return p.applyCredentialUpdate(ctx, t)

	case outbox.KindProfileCreate:
		var t outbox.ProfileCreate
		if err := decodePayload(env, &t); err != nil {
			return "", err
		}
		return p.applyProfileCreate(ctx, t, logger)

	case outbox.KindProfileUpdate:
		var t outbox.ProfileUpdate
		if err := decodePayload(env, &t); err != nil {
			return "", err
		}
		return p.applyProfileUpdate(ctx, t, logger)

	case outbox.KindProfileDelete:
		var t outbox.ProfileDelete
		if err := decodePayload(env, &t); err != nil {
			return "", err
		}
		return p.applyProfileDelete(ctx, t, logger)
	}

	return "", fmt.Errorf("unknown task kind %q", env.Kind)
}

func decodePayload(env *outbox.Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", env.Kind, err)
	}
	return nil
}

func (p *DeviceTaskProcessor) adapterFor(ctx context.Context, deviceID uuid.UUID) (device.Adapter, error) {
	d, err := p.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return p.devices.ForDevice(d)
}

func (p *DeviceTaskProcessor) applyStatus(ctx context.Context, t outbox.StatusChanged) (string, error) {
	c, err := p.store.GetContract(ctx, t.ContractID)
	if err != nil {
		return "", err
	}
	if c.Status != t.Status {
		return "", fmt.Errorf("%w: contract is now %s", errSkip, c.Status)
	}

	cred, err := p.store.GetCredential(ctx, t.CredentialID)
	if err != nil {
		return "", err
	}
	adapter, err := p.adapterFor(ctx, cred.DeviceID)
	if err != nil {
		return cred.Username, err
	}

	if t.Status == db.ContractActive {
		return cred.Username, adapter.EnableCredential(ctx, cred.Username)
	}
	return cred.Username, adapter.DisableCredential(ctx, cred.Username)
}

func (p *DeviceTaskProcessor) applyCredentialUpdate(ctx context.Context, t outbox.CredentialUpdate) (string, error) {
	cred, err := p.store.GetCredential(ctx, t.CredentialID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("%w: credential deleted", errSkip)
	}
	if err != nil {
		return "", err
	}
	profile, err := p.store.GetProfile(ctx, cred.ProfileID)
	if err != nil {
		return cred.Username, err
	}
	adapter, err := p.adapterFor(ctx, cred.DeviceID)
	if err != nil {
		return cred.Username, err
	}
	return cred.Username, adapter.UpdateCredential(ctx, cred.Username, device.CredentialFromLocal(cred, profile.Name))
}

func (p *DeviceTaskProcessor) applyProfileCreate(ctx context.Context, t outbox.ProfileCreate, logger *zap.Logger) (string, error) {
	local := t.Profile.Local(t.ProfileID, t.DeviceID)
	adapter, err := p.adapterFor(ctx, t.DeviceID)
	if err != nil {
		return local.Name, err
	}

	err = adapter.CreateProfile(ctx, device.ProfileFromLocal(local))
	if errors.Is(err, device.ErrCommandFailed) && alreadyApplied(ctx, adapter, local) {
		logger.Info("profile already on device", zap.String("profile", local.Name))
		return local.Name, nil
	}
	return local.Name, err
}

// applyProfileUpdate replays the queued snapshot even when the profile has
// since been renamed or deleted locally; later tasks expect the device to
// hold it.
func (p *DeviceTaskProcessor) applyProfileUpdate(ctx context.Context, t outbox.ProfileUpdate, logger *zap.Logger) (string, error) {
	local := t.Profile.Local(t.ProfileID, t.DeviceID)
	adapter, err := p.adapterFor(ctx, t.DeviceID)
	if err != nil {
		return t.PreviousName, err
	}

	err = adapter.UpdateProfile(ctx, t.PreviousName, device.ProfileFromLocal(local))
	if errors.Is(err, device.ErrObjectNotFound) && alreadyApplied(ctx, adapter, local) {
		logger.Info("profile update already on device",
			zap.String("previous_name", t.PreviousName),
			zap.String("profile", local.Name))
		return t.PreviousName, nil
	}
	return t.PreviousName, err
}

// alreadyApplied reports whether the device holds want under its name with
// matching rates and timeout, as after a redelivered task
func alreadyApplied(ctx context.Context, adapter device.Adapter, want *db.BandwidthProfile) bool {
	profiles, err := adapter.ListProfiles(ctx)
	if err != nil {
		return false
	}
	for _, remote := range profiles {
		if remote.Name != want.Name {
			continue
		}
		drifted, _ := drift.DetectProfile(want, remote)
		return !drifted
	}
	return false
}

func (p *DeviceTaskProcessor) applyProfileDelete(ctx context.Context, t outbox.ProfileDelete, logger *zap.Logger) (string, error) {
	adapter, err := p.adapterFor(ctx, t.DeviceID)
	if err != nil {
		return t.Name, err
	}
	err = adapter.DeleteProfile(ctx, t.Name)
	if errors.Is(err, device.ErrObjectNotFound) {
		logger.Info("profile already absent from device", zap.String("profile", t.Name))
		return t.Name, nil
	}
	return t.Name, err
}

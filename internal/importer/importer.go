// Package importer pulls a device's credentials and profiles into the
// database. Runs are idempotent: objects already known locally by
// (device, name) are skipped, never duplicated.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/septivank/pppoe-provisioning-worker/internal/device"
	"github.com/septivank/pppoe-provisioning-worker/internal/drift"
	"github.com/septivank/pppoe-provisioning-worker/internal/lock"
	"github.com/septivank/pppoe-provisioning-worker/internal/logging"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
	"github.com/septivank/pppoe-provisioning-worker/tools/units"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrForeignProfile is returned when a forced profile belongs to another
// device
var ErrForeignProfile = errors.New("profile belongs to another device")

// Report is the outcome of one import run. It is returned to the caller and
// never stored.
type Report struct {
	TotalSeen    int      `json:"total_seen"`
	Created      int      `json:"created"`
	Skipped      int      `json:"skipped"`
	Failed       int      `json:"failed"`
	CreatedNames []string `json:"created_names"`
	SkippedNames []string `json:"skipped_names"`
	Errors       []string `json:"errors"`
	Drifted      []string `json:"drifted,omitempty"`
}

func newReport() *Report {
	return &Report{
		CreatedNames: []string{},
		SkippedNames: []string{},
		Errors:       []string{},
	}
}

func (r *Report) created(name string) {
	r.Created++
	r.CreatedNames = append(r.CreatedNames, name)
}

func (r *Report) skipped(name string) {
	r.Skipped++
	r.SkippedNames = append(r.SkippedNames, name)
}

func (r *Report) failed(name string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", name, err))
}

// Importer merges device listings into the local store
type Importer struct {
	store   repository.Store
	devices device.Provider
	locker  lock.Locker
	lockTTL time.Duration
	logger  *zap.Logger
}

// NewImporter creates an importer. Runs for the same device are serialized
// through locker; a second concurrent run fails with lock.ErrLocked.
func NewImporter(store repository.Store, devices device.Provider, locker lock.Locker, lockTTL time.Duration, logger *zap.Logger) *Importer {
	return &Importer{
		store:   store,
		devices: devices,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// begin takes the device lock and resolves its adapter
func (i *Importer) begin(ctx context.Context, deviceID uuid.UUID) (device.Adapter, func(), error) {
	release, err := i.locker.Acquire(ctx, "device:"+deviceID.String(), i.lockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("import for device %s: %w", deviceID, err)
	}

	d, err := i.store.GetDevice(ctx, deviceID)
	if err != nil {
		release()
		return nil, nil, err
	}

	adapter, err := i.devices.ForDevice(d)
	if err != nil {
		release()
		return nil, nil, err
	}
	return adapter, release, nil
}

// ImportProfiles creates a local profile for every device profile not yet
// known by name. Known profiles are left untouched; those whose rate limit or
// session timeout differ from the device are listed in Report.Drifted.
func (i *Importer) ImportProfiles(ctx context.Context, deviceID uuid.UUID) (*Report, error) {
	adapter, release, err := i.begin(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	logger := logging.WithDevice(i.logger, deviceID)

	remote, err := adapter.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list device profiles: %w", err)
	}

	report := newReport()
	report.TotalSeen = len(remote)

	for _, p := range remote {
		if p.Name == "" {
			report.failed("(unnamed)", errors.New("profile has no name"))
			continue
		}

		local, err := i.store.FindProfileByName(ctx, deviceID, p.Name)
		switch {
		case err == nil:
			report.skipped(p.Name)
			if drifted, reason := drift.DetectProfile(local, p); drifted {
				report.Drifted = append(report.Drifted, p.Name)
				logger.Warn("profile differs from device",
					zap.String("profile", p.Name),
					zap.String("reason", reason),
				)
			}
			continue
		case !errors.Is(err, repository.ErrNotFound):
			report.failed(p.Name, err)
			continue
		}

		row := profileFromDevice(deviceID, p, logger)
		if err := i.store.InsertProfile(ctx, row); err != nil {
			report.failed(p.Name, err)
			continue
		}
		report.created(p.Name)
	}

	logger.Info("profile import finished",
		zap.Int("total_seen", report.TotalSeen),
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func profileFromDevice(deviceID uuid.UUID, p device.Profile, logger *zap.Logger) *db.BandwidthProfile {
	upload, download, err := units.ParseRateLimit(p.RateLimit)
	if err != nil && p.RateLimit != "" {
		logger.Warn("imported profile rate limit defaulted to zero", zap.String("profile", p.Name), zap.Error(err))
	}
	timeout, err := units.ParseDuration(p.SessionTimeout)
	if err != nil {
		logger.Warn("imported profile session timeout defaulted to zero", zap.String("profile", p.Name), zap.Error(err))
	}

	return &db.BandwidthProfile{
		DeviceID:              deviceID,
		Name:                  p.Name,
		UploadBitsPerSecond:   upload,
		DownloadBitsPerSecond: download,
		SessionTimeoutSeconds: timeout,
		Active:                !p.Disabled,
	}
}

// ImportCredentials creates a local credential for every device credential
// not yet known by username. New credentials take forcedProfileID when given,
// otherwise the local profile named like the device-side one; a credential
// whose profile is unknown locally is reported as failed. Known credentials
// whose local secret is empty or a one-way hash get the device's plaintext
// secret.
func (i *Importer) ImportCredentials(ctx context.Context, deviceID uuid.UUID, forcedProfileID *uuid.UUID) (*Report, error) {
	adapter, release, err := i.begin(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	logger := logging.WithDevice(i.logger, deviceID)

	if forcedProfileID != nil {
		forced, err := i.store.GetProfile(ctx, *forcedProfileID)
		if err != nil {
			return nil, err
		}
		if forced.DeviceID != deviceID {
			return nil, fmt.Errorf("profile %s: %w", forced.ID, ErrForeignProfile)
		}
	}

	remote, err := adapter.ListCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list device credentials: %w", err)
	}

	report := newReport()
	report.TotalSeen = len(remote)

	for _, c := range remote {
		if c.Name == "" {
			report.failed("(unnamed)", errors.New("credential has no name"))
			continue
		}

		if err := i.importCredential(ctx, deviceID, forcedProfileID, c, report); err != nil {
			report.failed(c.Name, err)
		}
	}

	logger.Info("credential import finished",
		zap.Int("total_seen", report.TotalSeen),
		zap.Int("created", report.Created),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (i *Importer) importCredential(ctx context.Context, deviceID uuid.UUID, forcedProfileID *uuid.UUID, c device.Credential, report *Report) error {
	local, err := i.store.FindCredentialByUsername(ctx, deviceID, c.Name)
	if err == nil {
		if c.Secret != "" && c.Secret != local.Secret && (local.Secret == "" || looksHashed(local.Secret)) {
			if err := i.store.UpdateCredentialSecret(ctx, local.ID, c.Secret); err != nil {
				return err
			}
			report.skipped(c.Name + " (secret updated)")
			return nil
		}
		report.skipped(c.Name)
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	var profileID uuid.UUID
	if forcedProfileID != nil {
		profileID = *forcedProfileID
	} else {
		p, err := i.store.FindProfileByName(ctx, deviceID, c.Profile)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("profile %q does not exist locally; import profiles first", c.Profile)
		}
		if err != nil {
			return err
		}
		profileID = p.ID
	}

	row := &db.Credential{
		DeviceID:  deviceID,
		ProfileID: profileID,
		Username:  c.Name,
		Secret:    c.Secret,
		Comment:   c.Comment,
		Active:    !c.Disabled,
	}
	if err := i.store.InsertCredential(ctx, row); err != nil {
		return err
	}
	report.created(c.Name)
	return nil
}

// looksHashed reports whether a stored secret is a one-way hash placeholder
// rather than a readable password
func looksHashed(secret string) bool {
	if _, err := bcrypt.Cost([]byte(secret)); err == nil {
		return true
	}
	// modular crypt format: $id$[params$]salt$hash
	return strings.HasPrefix(secret, "$") && strings.Count(secret, "$") >= 3 && len(secret) >= 20
}

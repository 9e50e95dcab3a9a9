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
	"github.com/septivank/pppoe-provisioning-worker/internal/outbox"
	"github.com/septivank/pppoe-provisioning-worker/internal/repository"
	"go.uber.org/zap"
)

var transitions = map[db.ContractStatus][]db.ContractStatus{
	db.ContractDraft:              {db.ContractActive, db.ContractCanceled},
	db.ContractActive:             {db.ContractSuspendedFinancial, db.ContractSuspendedRequest, db.ContractCanceled},
	db.ContractSuspendedFinancial: {db.ContractActive, db.ContractSuspendedRequest, db.ContractCanceled},
	db.ContractSuspendedRequest:   {db.ContractActive, db.ContractSuspendedFinancial, db.ContractCanceled},
}

// CanTransition reports whether a contract may move from one status to
// another. CANCELED is terminal.
func CanTransition(from, to db.ContractStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// customerStatusFor maps a contract status onto its customer. DRAFT has no
// mapping.
func customerStatusFor(s db.ContractStatus) (db.CustomerStatus, bool) {
	switch {
	case s == db.ContractActive:
		return db.CustomerActive, true
	case s.Suspended():
		return db.CustomerSuspended, true
	case s == db.ContractCanceled:
		return db.CustomerCanceled, true
	}
	return "", false
}

// ProvisioningService drives the contract lifecycle
type ProvisioningService struct {
	store      repository.Store
	devices    device.Provider
	dispatcher Dispatcher
	logger     *zap.Logger
	settleWait time.Duration
}

// defaultSettleWait bounds how long compensation waits for a timed-out device
// create to return before removing its object
const defaultSettleWait = 30 * time.Second

// NewProvisioningService creates a new provisioning service
func NewProvisioningService(store repository.Store, devices device.Provider, dispatcher Dispatcher, logger *zap.Logger) *ProvisioningService {
	return &ProvisioningService{
		store:      store,
		devices:    devices,
		dispatcher: dispatcher,
		logger:     logger,
		settleWait: defaultSettleWait,
	}
}

// provisioned remembers a device object created inside a transaction so it
// can be removed again if that transaction does not commit
type provisioned struct {
	adapter  device.Adapter
	username string
}

// ChangeStatus moves a contract to status and mirrors it onto the customer
// in the same transaction.
//
// The first activation of a contract without a credential creates one: the
// local row is written and attached first, then the device object is created
// while the transaction is still open. A device failure rolls the local rows
// back, and a failed commit removes the device object again.
//
// Every other device consequence (enable on ACTIVE, disable otherwise) is
// recorded as an outbox task and applied by the task consumer after commit.
func (s *ProvisioningService) ChangeStatus(ctx context.Context, contractID uuid.UUID, status db.ContractStatus) (*db.Contract, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown contract status %q", ErrValidation, status)
	}

	logger := s.logger.With(
		zap.String("contract_id", contractID.String()),
		zap.String("status", string(status)),
	)

	var (
		result  *db.Contract
		created *provisioned
	)

	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		c, err := q.GetContractForUpdate(ctx, contractID)
		if err != nil {
			return err
		}
		if c.Status == status {
			result = c
			return nil
		}
		if !CanTransition(c.Status, status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, c.Status, status)
		}
		previous := c.Status

		if err := q.UpdateContractStatus(ctx, c.ID, status); err != nil {
			return err
		}
		if cs, ok := customerStatusFor(status); ok {
			if err := q.UpdateCustomerStatus(ctx, c.CustomerID, cs); err != nil {
				return fmt.Errorf("failed to mirror customer status: %w", err)
			}
		}

		if status == db.ContractActive && c.CredentialID == nil {
			credentialID, p, err := s.bootstrap(ctx, q, c, logger)
			created = p
			if err != nil {
				return err
			}
			c.CredentialID = &credentialID
		} else if c.CredentialID != nil {
			err := outbox.Enqueue(ctx, q, outbox.KindContractStatus, outbox.StatusChanged{
				ContractID:   c.ID,
				CredentialID: *c.CredentialID,
				Previous:     previous,
				Status:       status,
			})
			if err != nil {
				return err
			}
		}

		c.Status = status
		result = c
		return nil
	})
	if err != nil {
		if created != nil {
			s.compensate(created, err, logger)
		}
		logger.Error("status change failed", zap.Error(err))
		return nil, err
	}

	logger.Info("contract status changed")
	dispatch(ctx, s.dispatcher, logger)
	return result, nil
}

// bootstrap creates and attaches the contract's credential. The device call
// comes last so that any local constraint failure aborts before it. The
// returned *provisioned is non-nil whenever the device may hold the new
// object, including a timed-out create whose outcome is unknown.
func (s *ProvisioningService) bootstrap(ctx context.Context, q repository.Queries, c *db.Contract, logger *zap.Logger) (uuid.UUID, *provisioned, error) {
	plan, err := q.GetServicePlan(ctx, c.PlanID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	profile, err := q.GetProfile(ctx, plan.ProfileID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if profile.DeviceID != plan.DeviceID {
		return uuid.Nil, nil, fmt.Errorf("%w: plan %s profile belongs to another device", ErrValidation, plan.ID)
	}
	dev, err := q.GetDevice(ctx, plan.DeviceID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	customer, err := q.GetCustomer(ctx, c.CustomerID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	var addr *db.Address
	if c.AddressID != nil {
		if addr, err = q.GetAddress(ctx, *c.AddressID); err != nil {
			return uuid.Nil, nil, err
		}
	}

	username, err := uniqueUsername(ctx, q, dev.ID, NormalizeUsername(customer.Name))
	if err != nil {
		return uuid.Nil, nil, err
	}
	secret, err := GenerateSecret()
	if err != nil {
		return uuid.Nil, nil, err
	}

	cred := &db.Credential{
		DeviceID:  dev.ID,
		ProfileID: profile.ID,
		Username:  username,
		Secret:    secret,
		Comment:   credentialComment(c.ID, customer, addr),
		Active:    true,
	}
	if err := q.InsertCredential(ctx, cred); err != nil {
		return uuid.Nil, nil, err
	}
	if err := q.AttachCredential(ctx, c.ID, cred.ID); err != nil {
		return uuid.Nil, nil, err
	}

	adapter, err := s.devices.ForDevice(dev)
	if err != nil {
		return uuid.Nil, nil, err
	}
	created := &provisioned{adapter: adapter, username: username}
	if err := adapter.CreateCredential(ctx, device.CredentialFromLocal(cred, profile.Name)); err != nil {
		if !errors.Is(err, device.ErrUnreachable) {
			created = nil
		}
		return uuid.Nil, created, fmt.Errorf("failed to create credential %q on device: %w", username, err)
	}

	logging.WithDevice(logger, dev.ID).Info("credential provisioned",
		zap.String("username", username),
		zap.String("profile", profile.Name),
	)
	return cred.ID, created, nil
}

// compensate removes a device credential whose local rows were rolled back.
// When the create timed out it first waits for that call to return, so the
// delete cannot land before the create it undoes.
func (s *ProvisioningService) compensate(p *provisioned, cause error, logger *zap.Logger) {
	settled := true
	if pending := device.Settled(cause); pending != nil {
		timer := time.NewTimer(s.settleWait)
		select {
		case <-pending:
		case <-timer.C:
			settled = false
		}
		timer.Stop()
	}

	err := p.adapter.DeleteCredential(context.Background(), p.username)
	if err == nil || (settled && errors.Is(err, device.ErrObjectNotFound)) {
		logger.Warn("removed device credential of failed activation", zap.String("username", p.username))
		return
	}
	if !settled {
		err = fmt.Errorf("create still running after %s: %w", s.settleWait, err)
	}
	logging.Drift(logger, "orphan credential left on device", err,
		zap.String("kind", "credential.add"),
		zap.String("username", p.username),
	)
}

// ChangePlan points a contract at another plan of the same device. An
// attached credential is moved to the plan's profile locally and on the
// device after commit.
func (s *ProvisioningService) ChangePlan(ctx context.Context, contractID, planID uuid.UUID) (*db.Contract, error) {
	logger := s.logger.With(
		zap.String("contract_id", contractID.String()),
		zap.String("plan_id", planID.String()),
	)

	var result *db.Contract
	err := s.store.WithTx(ctx, func(q repository.Queries) error {
		c, err := q.GetContractForUpdate(ctx, contractID)
		if err != nil {
			return err
		}
		if c.Status == db.ContractCanceled {
			return fmt.Errorf("%w: contract is canceled", ErrInvalidTransition)
		}
		result = c
		if c.PlanID == planID {
			return nil
		}

		plan, err := q.GetServicePlan(ctx, planID)
		if err != nil {
			return err
		}

		if c.CredentialID != nil {
			cred, err := q.GetCredential(ctx, *c.CredentialID)
			if err != nil {
				return err
			}
			if cred.DeviceID != plan.DeviceID {
				return fmt.Errorf("%w: plan %s is served by another device", ErrValidation, plan.Name)
			}
			if err := q.UpdateCredentialProfile(ctx, cred.ID, plan.ProfileID); err != nil {
				return err
			}
			if err := outbox.Enqueue(ctx, q, outbox.KindCredentialUpdate, outbox.CredentialUpdate{CredentialID: cred.ID}); err != nil {
				return err
			}
		}

		if err := q.UpdateContractPlan(ctx, c.ID, plan.ID); err != nil {
			return err
		}
		c.PlanID = plan.ID
		return nil
	})
	if err != nil {
		logger.Error("plan change failed", zap.Error(err))
		return nil, err
	}

	logger.Info("contract plan changed")
	dispatch(ctx, s.dispatcher, logger)
	return result, nil
}

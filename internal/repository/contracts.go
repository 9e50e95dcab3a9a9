package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
)

const contractColumns = `id, customer_id, plan_id, address_id, credential_id, status, billing_day, amount::float8, updated_at`

// GetDevice loads a device descriptor
func (q *queries) GetDevice(ctx context.Context, id uuid.UUID) (*db.Device, error) {
	query := `
		SELECT id, name, host, control_port, admin_user, admin_secret, protocol
		FROM devices
		WHERE id = $1
	`

	var d db.Device
	var protocol string
	err := q.db.QueryRow(ctx, query, id).Scan(
		&d.ID,
		&d.Name,
		&d.Host,
		&d.ControlPort,
		&d.AdminUser,
		&d.AdminSecret,
		&protocol,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", id, mapError(err))
	}
	d.Protocol = db.DeviceProtocol(protocol)
	return &d, nil
}

// GetCustomer loads a customer
func (q *queries) GetCustomer(ctx context.Context, id uuid.UUID) (*db.Customer, error) {
	var c db.Customer
	var status string
	err := q.db.QueryRow(ctx, `SELECT id, name, status FROM customers WHERE id = $1`, id).Scan(&c.ID, &c.Name, &status)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer %s: %w", id, mapError(err))
	}
	c.Status = db.CustomerStatus(status)
	return &c, nil
}

// UpdateCustomerStatus sets the mirrored customer status
func (q *queries) UpdateCustomerStatus(ctx context.Context, id uuid.UUID, status db.CustomerStatus) error {
	tag, err := q.db.Exec(ctx, `UPDATE customers SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update customer status: %w", mapError(err))
	}
	return expectOne(tag)
}

// GetAddress loads an installation address
func (q *queries) GetAddress(ctx context.Context, id uuid.UUID) (*db.Address, error) {
	query := `
		SELECT id, street, number, neighborhood, city
		FROM addresses
		WHERE id = $1
	`

	var a db.Address
	err := q.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.Street, &a.Number, &a.Neighborhood, &a.City)
	if err != nil {
		return nil, fmt.Errorf("failed to get address %s: %w", id, mapError(err))
	}
	return &a, nil
}

// GetServicePlan loads a service plan
func (q *queries) GetServicePlan(ctx context.Context, id uuid.UUID) (*db.ServicePlan, error) {
	var p db.ServicePlan
	err := q.db.QueryRow(ctx, `SELECT id, name, device_id, profile_id FROM service_plans WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.DeviceID, &p.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get service plan %s: %w", id, mapError(err))
	}
	return &p, nil
}

// GetContract loads a contract
func (q *queries) GetContract(ctx context.Context, id uuid.UUID) (*db.Contract, error) {
	return q.getContract(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id)
}

// GetContractForUpdate loads a contract and locks its row until the
// enclosing transaction ends
func (q *queries) GetContractForUpdate(ctx context.Context, id uuid.UUID) (*db.Contract, error) {
	return q.getContract(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1 FOR UPDATE`, id)
}

// GetContractByCredential loads the contract a credential is attached to
func (q *queries) GetContractByCredential(ctx context.Context, credentialID uuid.UUID) (*db.Contract, error) {
	return q.getContract(ctx, `SELECT `+contractColumns+` FROM contracts WHERE credential_id = $1`, credentialID)
}

func (q *queries) getContract(ctx context.Context, query string, arg uuid.UUID) (*db.Contract, error) {
	c, err := scanContract(q.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", mapError(err))
	}
	return c, nil
}

func scanContract(row pgx.Row) (*db.Contract, error) {
	var c db.Contract
	var status string
	err := row.Scan(
		&c.ID,
		&c.CustomerID,
		&c.PlanID,
		&c.AddressID,
		&c.CredentialID,
		&status,
		&c.BillingDay,
		&c.Amount,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = db.ContractStatus(status)
	return &c, nil
}

// UpdateContractStatus writes a new contract status
func (q *queries) UpdateContractStatus(ctx context.Context, id uuid.UUID, status db.ContractStatus) error {
	query := `
		UPDATE contracts
		SET status = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := q.db.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update contract status: %w", mapError(err))
	}
	return expectOne(tag)
}

// UpdateContractPlan points a contract at another service plan
func (q *queries) UpdateContractPlan(ctx context.Context, id, planID uuid.UUID) error {
	query := `
		UPDATE contracts
		SET plan_id = $2, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := q.db.Exec(ctx, query, id, planID)
	if err != nil {
		return fmt.Errorf("failed to update contract plan: %w", mapError(err))
	}
	return expectOne(tag)
}

// AttachCredential sets credential_id once. A contract that already holds a
// credential is left untouched and ErrAlreadyAttached is returned.
func (q *queries) AttachCredential(ctx context.Context, contractID, credentialID uuid.UUID) error {
	query := `
		UPDATE contracts
		SET credential_id = $2, updated_at = NOW()
		WHERE id = $1 AND credential_id IS NULL
	`

	tag, err := q.db.Exec(ctx, query, contractID, credentialID)
	if err != nil {
		return fmt.Errorf("failed to attach credential: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyAttached
	}
	return nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
)

var (
	// ErrNotFound is returned when a local lookup misses
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write
	ErrDuplicate = errors.New("duplicate")
	// ErrReferenced is returned when a write breaks a foreign key, either by
	// pointing at a missing row or by removing one that is still used
	ErrReferenced = errors.New("referential integrity violation")
	// ErrAlreadyAttached is returned when a contract already holds a credential
	ErrAlreadyAttached = errors.New("contract already has a credential")
)

// DBTX is satisfied by both the pool and a transaction
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is the subset of pgxpool.Pool the repository needs
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Queries is the set of operations available both on the pool and inside a
// transaction
type Queries interface {
	GetDevice(ctx context.Context, id uuid.UUID) (*db.Device, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*db.Customer, error)
	UpdateCustomerStatus(ctx context.Context, id uuid.UUID, status db.CustomerStatus) error
	GetAddress(ctx context.Context, id uuid.UUID) (*db.Address, error)
	GetServicePlan(ctx context.Context, id uuid.UUID) (*db.ServicePlan, error)

	GetContract(ctx context.Context, id uuid.UUID) (*db.Contract, error)
	GetContractForUpdate(ctx context.Context, id uuid.UUID) (*db.Contract, error)
	GetContractByCredential(ctx context.Context, credentialID uuid.UUID) (*db.Contract, error)
	UpdateContractStatus(ctx context.Context, id uuid.UUID, status db.ContractStatus) error
	UpdateContractPlan(ctx context.Context, id, planID uuid.UUID) error
	AttachCredential(ctx context.Context, contractID, credentialID uuid.UUID) error

	GetProfile(ctx context.Context, id uuid.UUID) (*db.BandwidthProfile, error)
	FindProfileByName(ctx context.Context, deviceID uuid.UUID, name string) (*db.BandwidthProfile, error)
	InsertProfile(ctx context.Context, p *db.BandwidthProfile) error
	UpdateProfile(ctx context.Context, p *db.BandwidthProfile) error
	DeleteProfile(ctx context.Context, id uuid.UUID) error

	GetCredential(ctx context.Context, id uuid.UUID) (*db.Credential, error)
	FindCredentialByUsername(ctx context.Context, deviceID uuid.UUID, username string) (*db.Credential, error)
	InsertCredential(ctx context.Context, c *db.Credential) error
	UpdateCredentialSecret(ctx context.Context, id uuid.UUID, secret string) error
	UpdateCredentialProfile(ctx context.Context, id, profileID uuid.UUID) error
	TouchCredentialSeen(ctx context.Context, id uuid.UUID, at time.Time) error
	DeleteCredential(ctx context.Context, id uuid.UUID) error

	EnqueueTask(ctx context.Context, task *db.OutboxTask) error
	PendingTasks(ctx context.Context, limit int) ([]db.OutboxTask, error)
	MarkTaskDispatched(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Store is Queries plus transactions
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
}

// Repository handles database operations
type Repository struct {
	*queries
	pool Pool
}

// NewRepository creates a new repository
func NewRepository(pool Pool) *Repository {
	return &Repository{queries: &queries{db: pool}, pool: pool}
}

// WithTx runs fn inside a transaction. Every statement fn issues is sent to
// the database immediately, so constraint violations surface from the call
// that caused them; fn's error or a failed commit rolls everything back.
func (r *Repository) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type queries struct {
	db DBTX
}

// mapError translates driver errors into the repository's sentinel errors
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", ErrReferenced, pgErr.ConstraintName)
		}
	}
	return err
}

func expectOne(tag pgconn.CommandTag) error {
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

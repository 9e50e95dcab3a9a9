package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/septivank/pppoe-provisioning-worker/internal/db"
	"github.com/stretchr/testify/require"
)

func runRepoTest(t *testing.T, fn func(mock pgxmock.PgxPoolIface, repo *Repository)) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	fn(mock, NewRepository(mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_FindProfileByName(t *testing.T) {
	t.Parallel()

	deviceID := uuid.New()
	profileID := uuid.New()
	now := time.Now()

	runRepoTest(t, func(mock pgxmock.PgxPoolIface, repo *Repository) {
		rows := pgxmock.NewRows([]string{
			"id", "device_id", "name", "download_bits_per_second", "upload_bits_per_second",
			"session_timeout_seconds", "active", "created_at", "updated_at",
		}).AddRow(profileID, deviceID, "50M", int64(50000000), int64(25000000), int64(0), true, now, now)

		mock.ExpectQuery(regexp.QuoteMeta("FROM bandwidth_profiles WHERE device_id = $1 AND name = $2")).
			WithArgs(deviceID, "50M").
			WillReturnRows(rows)

		p, err := repo.FindProfileByName(context.Background(), deviceID, "50M")
		require.NoError(t, err)
		require.Equal(t, profileID, p.ID)
		require.Equal(t, int64(50000000), p.DownloadBitsPerSecond)
		require.Equal(t, int64(25000000), p.UploadBitsPerSecond)
	})
}

func TestRepository_FindProfileByName_NotFound(t *testing.T) {
	t.Parallel()

	deviceID := uuid.New()

	runRepoTest(t, func(mock pgxmock.PgxPoolIface, repo *Repository) {
		mock.ExpectQuery(regexp.QuoteMeta("FROM bandwidth_profiles WHERE device_id = $1 AND name = $2")).
			WithArgs(deviceID, "ghost").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.FindProfileByName(context.Background(), deviceID, "ghost")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepository_InsertCredential_Duplicate(t *testing.T) {
	t.Parallel()

	c := &db.Credential{ID: uuid.New(), DeviceID: uuid.New(), ProfileID: uuid.New(), Username: "maria.silva", Active: true}

	runRepoTest(t, func(mock pgxmock.PgxPoolIface, repo *Repository) {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO credentials")).
			WithArgs(c.ID, c.DeviceID, c.ProfileID, c.Username, c.Secret, c.Comment, c.Active).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "credentials_device_id_username_key"})

		err := repo.InsertCredential(context.Background(), c)
		require.ErrorIs(t, err, ErrDuplicate)
	})
}

func TestRepository_DeleteCredential_Referenced(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	runRepoTest(t, func(mock pgxmock.PgxPoolIface, repo *Repository) {
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM credentials WHERE id = $1")).
			WithArgs(id).
			WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "contracts_credential_id_fkey"})

		require.ErrorIs(t, repo.DeleteCredential(context.Background(), id), ErrReferenced)
	})
}

func TestRepository_AttachCredential_OnlyOnce(t *testing.T) {
	t.Parallel()

	contractID := uuid.New()
	credentialID := uuid.New()

	runRepoTest(t, func(mock pgxmock.PgxPoolIface, repo *Repository) {
		mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND credential_id IS NULL")).
			WithArgs(contractID, credentialID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND credential_id IS NULL")).
			WithArgs(contractID, credentialID).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		require.NoError(t, repo.AttachCredential(context.Background(), contractID, credentialID))
		require.ErrorIs(t, repo.AttachCredential(context.Background(), contractID, credentialID), ErrAlreadyAttached)
	})
}

func TestRepository_GetContract(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	credentialID := uuid.New()
	now := time.Now()

	runRepoTest(t, func(mock pgxmock.PgxPoolIface, repo *Repository) {
		rows := pgxmock.NewRows([]string{
			"id", "customer_id", "plan_id", "address_id", "credential_id", "status", "billing_day", "amount", "updated_at",
		}).AddRow(id, uuid.New(), uuid.New(), (*uuid.UUID)(nil), &credentialID, "SUSPENDED_FINANCIAL", 10, 99.9, now)

		mock.ExpectQuery(regexp.QuoteMeta("FROM contracts WHERE id = $1")).
			WithArgs(id).
			WillReturnRows(rows)

		c, err := repo.GetContract(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, db.ContractSuspendedFinancial, c.Status)
		require.Nil(t, c.AddressID)
		require.NotNil(t, c.CredentialID)
		require.Equal(t, credentialID, *c.CredentialID)
	})
}

func TestRepository_WithTx_CommitsOnSuccess(t *testing.T) {
	t.Parallel()

	id := uuid.New()

	runRepoTest(t, func(mock pgxmock.PgxPoolIface, repo *Repository) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE contracts")).
			WithArgs(id, "ACTIVE").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := repo.WithTx(context.Background(), func(q Queries) error {
			return q.UpdateContractStatus(context.Background(), id, db.ContractActive)
		})
		require.NoError(t, err)
	})
}

func TestRepository_WithTx_RollsBackOnError(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	boom := errors.New("device said no")

	runRepoTest(t, func(mock pgxmock.PgxPoolIface, repo *Repository) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE contracts")).
			WithArgs(id, "ACTIVE").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectRollback()

		err := repo.WithTx(context.Background(), func(q Queries) error {
			if err := q.UpdateContractStatus(context.Background(), id, db.ContractActive); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
	})
}

func TestRepository_EnqueueTask(t *testing.T) {
	t.Parallel()

	task := &db.OutboxTask{ID: uuid.New(), Kind: "profile.update", Payload: []byte(`{"profile_id":"x"}`)}
	now := time.Now()

	runRepoTest(t, func(mock pgxmock.PgxPoolIface, repo *Repository) {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO outbox_tasks")).
			WithArgs(task.ID, task.Kind, []byte(task.Payload)).
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))

		require.NoError(t, repo.EnqueueTask(context.Background(), task))
		require.Equal(t, now, task.CreatedAt)
	})
}

package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxline/golang_services/internal/sip_pool_service/domain"
)

var credentialTestColumns = []string{
	"id", "username", "password", "sip_domain", "server", "port", "transport",
	"assigned_user_id", "assigned_at", "created_at", "updated_at",
}

func setupCredentialTest(t *testing.T) (domain.CredentialRepository, pgxmock.PgxPoolIface) {
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := NewPgCredentialRepository(mockPool, logger)
	return repo, mockPool
}

func availableRow(mockPool pgxmock.PgxPoolIface, id int64) *pgxmock.Rows {
	now := time.Now().UTC()
	return mockPool.NewRows(credentialTestColumns).
		AddRow(id, "line1", "s3cret", "sip.voxline.example", "sip.voxline.example", 5060, "UDP",
			nil, nil, now, now)
}

func assignedRow(mockPool pgxmock.PgxPoolIface, id int64, userID uuid.UUID) *pgxmock.Rows {
	now := time.Now().UTC()
	return mockPool.NewRows(credentialTestColumns).
		AddRow(id, "line1", "s3cret", "sip.voxline.example", "sip.voxline.example", 5060, "UDP",
			userID.String(), now, now, now)
}

func TestPgCredentialRepository_GetByID(t *testing.T) {
	repo, mockPool := setupCredentialTest(t)
	defer mockPool.Close()

	t.Run("Found", func(t *testing.T) {
		mockPool.ExpectQuery(`SELECT id, username, password, (.+) FROM sip_credentials WHERE id = \$1`).
			WithArgs(int64(1)).
			WillReturnRows(availableRow(mockPool, 1))

		cred, err := repo.GetByID(context.Background(), 1)
		require.NoError(t, err)
		require.NotNil(t, cred)
		assert.Equal(t, int64(1), cred.ID)
		assert.False(t, cred.IsAssigned())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mockPool.ExpectQuery(`SELECT id, username, password, (.+) FROM sip_credentials WHERE id = \$1`).
			WithArgs(int64(99)).
			WillReturnRows(mockPool.NewRows(credentialTestColumns))

		cred, err := repo.GetByID(context.Background(), 99)
		require.ErrorIs(t, err, domain.ErrNotFound)
		assert.Nil(t, cred)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("DBError", func(t *testing.T) {
		dbErr := errors.New("database error")
		mockPool.ExpectQuery(`SELECT id, username, password, (.+) FROM sip_credentials WHERE id = \$1`).
			WithArgs(int64(1)).
			WillReturnError(dbErr)

		cred, err := repo.GetByID(context.Background(), 1)
		require.ErrorIs(t, err, dbErr)
		assert.Nil(t, cred)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgCredentialRepository_Assign(t *testing.T) {
	userID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`UPDATE sip_credentials\s+SET assigned_user_id = \$2, assigned_at = NOW\(\), updated_at = NOW\(\)\s+WHERE id = \$1 AND assigned_user_id IS NULL`).
			WithArgs(int64(1), userID).
			WillReturnRows(assignedRow(mockPool, 1, userID))

		cred, err := repo.Assign(context.Background(), 1, userID)
		require.NoError(t, err)
		require.NotNil(t, cred)
		assert.True(t, cred.IsAssignedTo(userID))
		require.NotNil(t, cred.AssignedAt)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ConflictWhenRowExistsButTaken", func(t *testing.T) {
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`UPDATE sip_credentials\s+SET assigned_user_id = \$2`).
			WithArgs(int64(1), userID).
			WillReturnRows(mockPool.NewRows(credentialTestColumns))
		mockPool.ExpectQuery(`SELECT EXISTS`).
			WithArgs(int64(1)).
			WillReturnRows(mockPool.NewRows([]string{"exists"}).AddRow(true))

		cred, err := repo.Assign(context.Background(), 1, userID)
		require.ErrorIs(t, err, domain.ErrConflict)
		assert.Nil(t, cred)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ConflictOnUniqueHolderViolation", func(t *testing.T) {
		// The user already holds another row; the partial unique index on
		// assigned_user_id rejects the second hold with 23505.
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`UPDATE sip_credentials\s+SET assigned_user_id = \$2`).
			WithArgs(int64(2), userID).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_sip_credentials_assigned_user"})

		cred, err := repo.Assign(context.Background(), 2, userID)
		require.ErrorIs(t, err, domain.ErrConflict)
		assert.Nil(t, cred)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NotFoundWhenRowMissing", func(t *testing.T) {
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`UPDATE sip_credentials\s+SET assigned_user_id = \$2`).
			WithArgs(int64(99), userID).
			WillReturnRows(mockPool.NewRows(credentialTestColumns))
		mockPool.ExpectQuery(`SELECT EXISTS`).
			WithArgs(int64(99)).
			WillReturnRows(mockPool.NewRows([]string{"exists"}).AddRow(false))

		cred, err := repo.Assign(context.Background(), 99, userID)
		require.ErrorIs(t, err, domain.ErrNotFound)
		assert.Nil(t, cred)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgCredentialRepository_ReleaseOwned(t *testing.T) {
	userID := uuid.New()

	t.Run("Success", func(t *testing.T) {
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`UPDATE sip_credentials\s+SET assigned_user_id = NULL, assigned_at = NULL, updated_at = NOW\(\)\s+WHERE id = \$1 AND assigned_user_id = \$2`).
			WithArgs(int64(1), userID).
			WillReturnRows(availableRow(mockPool, 1))

		cred, err := repo.ReleaseOwned(context.Background(), 1, userID)
		require.NoError(t, err)
		assert.False(t, cred.IsAssigned())
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ConflictWhenNotOwner", func(t *testing.T) {
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`UPDATE sip_credentials\s+SET assigned_user_id = NULL`).
			WithArgs(int64(1), userID).
			WillReturnRows(mockPool.NewRows(credentialTestColumns))
		mockPool.ExpectQuery(`SELECT EXISTS`).
			WithArgs(int64(1)).
			WillReturnRows(mockPool.NewRows([]string{"exists"}).AddRow(true))

		cred, err := repo.ReleaseOwned(context.Background(), 1, userID)
		require.ErrorIs(t, err, domain.ErrConflict)
		assert.Nil(t, cred)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgCredentialRepository_ReleaseByUser(t *testing.T) {
	userID := uuid.New()

	t.Run("ReleasesHeldRow", func(t *testing.T) {
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`UPDATE sip_credentials\s+SET assigned_user_id = NULL, assigned_at = NULL, updated_at = NOW\(\)\s+WHERE assigned_user_id = \$1`).
			WithArgs(userID).
			WillReturnRows(availableRow(mockPool, 3))

		cred, err := repo.ReleaseByUser(context.Background(), userID)
		require.NoError(t, err)
		require.NotNil(t, cred)
		assert.Equal(t, int64(3), cred.ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("NoOpWhenNothingHeld", func(t *testing.T) {
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`UPDATE sip_credentials\s+SET assigned_user_id = NULL, assigned_at = NULL, updated_at = NOW\(\)\s+WHERE assigned_user_id = \$1`).
			WithArgs(userID).
			WillReturnRows(mockPool.NewRows(credentialTestColumns))

		cred, err := repo.ReleaseByUser(context.Background(), userID)
		require.NoError(t, err)
		assert.Nil(t, cred)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgCredentialRepository_List(t *testing.T) {
	t.Run("OnlyAvailableOrderedByID", func(t *testing.T) {
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		now := time.Now().UTC()
		rows := mockPool.NewRows(credentialTestColumns).
			AddRow(int64(1), "line1", "pw1", "sip.voxline.example", "sip.voxline.example", 5060, "UDP", nil, nil, now, now).
			AddRow(int64(2), "line2", "pw2", "sip.voxline.example", "sip.voxline.example", 5060, "WSS", nil, nil, now, now)

		mockPool.ExpectQuery(`SELECT (.+) FROM sip_credentials WHERE assigned_user_id IS NULL ORDER BY id ASC LIMIT \$1 OFFSET \$2`).
			WithArgs(10, 0).
			WillReturnRows(rows)

		creds, err := repo.List(context.Background(), domain.ListFilter{OnlyAvailable: true, Limit: 10})
		require.NoError(t, err)
		require.Len(t, creds, 2)
		assert.Equal(t, int64(1), creds[0].ID)
		assert.Equal(t, int64(2), creds[1].ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("EmptyPool", func(t *testing.T) {
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`SELECT (.+) FROM sip_credentials WHERE assigned_user_id IS NULL ORDER BY id ASC LIMIT \$1 OFFSET \$2`).
			WithArgs(5, 0).
			WillReturnRows(mockPool.NewRows(credentialTestColumns))

		creds, err := repo.List(context.Background(), domain.ListFilter{OnlyAvailable: true, Limit: 5})
		require.NoError(t, err)
		assert.Empty(t, creds)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestPgCredentialRepository_Counts(t *testing.T) {
	repo, mockPool := setupCredentialTest(t)
	defer mockPool.Close()

	mockPool.ExpectQuery(`SELECT COUNT\(\*\) FROM sip_credentials WHERE assigned_user_id IS NULL`).
		WillReturnRows(mockPool.NewRows([]string{"count"}).AddRow(4))
	mockPool.ExpectQuery(`SELECT COUNT\(\*\) FROM sip_credentials`).
		WillReturnRows(mockPool.NewRows([]string{"count"}).AddRow(10))

	available, err := repo.CountAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, available)

	total, err := repo.CountTotal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPgCredentialRepository_UpdateDetails(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`UPDATE sip_credentials\s+SET username = \$2, password = \$3, sip_domain = \$4, server = \$5, port = \$6, transport = \$7, updated_at = NOW\(\)\s+WHERE id = \$1 AND assigned_user_id IS NULL`).
			WithArgs(int64(1), "line1", "s3cret", "sip.voxline.example", "sip.voxline.example", 5060, "UDP").
			WillReturnRows(availableRow(mockPool, 1))

		cred, err := repo.UpdateDetails(context.Background(), &domain.SipCredential{
			ID: 1, Username: "line1", Password: "s3cret",
			SipDomain: "sip.voxline.example", Server: "sip.voxline.example",
			Port: 5060, Transport: "UDP",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), cred.ID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("ConflictWhileAssigned", func(t *testing.T) {
		repo, mockPool := setupCredentialTest(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(`UPDATE sip_credentials\s+SET username = \$2`).
			WithArgs(int64(1), "line1", "s3cret", "sip.voxline.example", "sip.voxline.example", 5060, "UDP").
			WillReturnRows(mockPool.NewRows(credentialTestColumns))
		mockPool.ExpectQuery(`SELECT EXISTS`).
			WithArgs(int64(1)).
			WillReturnRows(mockPool.NewRows([]string{"exists"}).AddRow(true))

		cred, err := repo.UpdateDetails(context.Background(), &domain.SipCredential{
			ID: 1, Username: "line1", Password: "s3cret",
			SipDomain: "sip.voxline.example", Server: "sip.voxline.example",
			Port: 5060, Transport: "UDP",
		})
		require.ErrorIs(t, err, domain.ErrConflict)
		assert.Nil(t, cred)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

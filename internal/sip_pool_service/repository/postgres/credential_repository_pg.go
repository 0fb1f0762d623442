package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voxline/golang_services/internal/sip_pool_service/domain"
)

// DBPool is the subset of *pgxpool.Pool used by the repository. Declared as an
// interface so tests can substitute a pgxmock pool.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const credentialColumns = `id, username, password, sip_domain, server, port, transport, assigned_user_id, assigned_at, created_at, updated_at`

type PgCredentialRepository struct {
	db     DBPool
	logger *slog.Logger
}

func NewPgCredentialRepository(db DBPool, logger *slog.Logger) domain.CredentialRepository {
	return &PgCredentialRepository{db: db, logger: logger.With("component", "credential_repository_pg")}
}

// scanCredential is a helper to scan a single credential row.
func scanCredential(row pgx.Row) (*domain.SipCredential, error) {
	var c domain.SipCredential
	var assignedUserID uuid.NullUUID
	var assignedAt sql.NullTime

	err := row.Scan(
		&c.ID,
		&c.Username,
		&c.Password,
		&c.SipDomain,
		&c.Server,
		&c.Port,
		&c.Transport,
		&assignedUserID,
		&assignedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err // Let caller handle pgx.ErrNoRows
	}
	if assignedUserID.Valid {
		c.AssignedUserID = &assignedUserID.UUID
	}
	if assignedAt.Valid {
		c.AssignedAt = &assignedAt.Time
	}
	return &c, nil
}

func (r *PgCredentialRepository) List(ctx context.Context, filter domain.ListFilter) ([]*domain.SipCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM sip_credentials ORDER BY id ASC LIMIT $1 OFFSET $2`
	if filter.OnlyAvailable {
		query = `SELECT ` + credentialColumns + ` FROM sip_credentials WHERE assigned_user_id IS NULL ORDER BY id ASC LIMIT $1 OFFSET $2`
	}

	rows, err := r.db.Query(ctx, query, filter.Limit, filter.Offset)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing credentials", "error", err, "only_available", filter.OnlyAvailable)
		return nil, err
	}
	defer rows.Close()

	var creds []*domain.SipCredential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			r.logger.ErrorContext(ctx, "Error scanning credential row", "error", err)
			return nil, err
		}
		creds = append(creds, c)
	}
	if err := rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating credential rows", "error", err)
		return nil, err
	}
	return creds, nil
}

func (r *PgCredentialRepository) GetByID(ctx context.Context, id int64) (*domain.SipCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM sip_credentials WHERE id = $1`
	cred, err := scanCredential(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Credential not found", "credential_id", id)
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting credential by ID", "error", err, "credential_id", id)
		return nil, err
	}
	return cred, nil
}

func (r *PgCredentialRepository) GetByAssignedUser(ctx context.Context, userID uuid.UUID) (*domain.SipCredential, error) {
	query := `SELECT ` + credentialColumns + ` FROM sip_credentials WHERE assigned_user_id = $1`
	cred, err := scanCredential(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // user holds nothing; not an error
		}
		r.logger.ErrorContext(ctx, "Error getting credential by assigned user", "error", err, "user_id", userID)
		return nil, err
	}
	return cred, nil
}

// Assign is the compare-and-swap assignment path: the UPDATE only matches when
// the record is currently unassigned, so concurrent callers serialize in the
// database and exactly one wins.
func (r *PgCredentialRepository) Assign(ctx context.Context, id int64, userID uuid.UUID) (*domain.SipCredential, error) {
	query := `
		UPDATE sip_credentials
		SET assigned_user_id = $2, assigned_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND assigned_user_id IS NULL
		RETURNING ` + credentialColumns
	cred, err := scanCredential(r.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMissing(ctx, id)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// The partial unique index on assigned_user_id rejected a second
			// hold for this user.
			r.logger.WarnContext(ctx, "Assignment rejected, user already holds a credential", "credential_id", id, "user_id", userID)
			return nil, domain.ErrConflict
		}
		r.logger.ErrorContext(ctx, "Error assigning credential", "error", err, "credential_id", id, "user_id", userID)
		return nil, err
	}
	r.logger.InfoContext(ctx, "Credential assigned", "credential_id", id, "user_id", userID)
	return cred, nil
}

func (r *PgCredentialRepository) ReleaseOwned(ctx context.Context, id int64, userID uuid.UUID) (*domain.SipCredential, error) {
	query := `
		UPDATE sip_credentials
		SET assigned_user_id = NULL, assigned_at = NULL, updated_at = NOW()
		WHERE id = $1 AND assigned_user_id = $2
		RETURNING ` + credentialColumns
	cred, err := scanCredential(r.db.QueryRow(ctx, query, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMissing(ctx, id)
		}
		r.logger.ErrorContext(ctx, "Error releasing owned credential", "error", err, "credential_id", id, "user_id", userID)
		return nil, err
	}
	r.logger.InfoContext(ctx, "Credential released by owner", "credential_id", id, "user_id", userID)
	return cred, nil
}

func (r *PgCredentialRepository) ForceRelease(ctx context.Context, id int64) (*domain.SipCredential, error) {
	query := `
		UPDATE sip_credentials
		SET assigned_user_id = NULL, assigned_at = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + credentialColumns
	cred, err := scanCredential(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Credential not found for force release", "credential_id", id)
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error force releasing credential", "error", err, "credential_id", id)
		return nil, err
	}
	r.logger.InfoContext(ctx, "Credential force released", "credential_id", id)
	return cred, nil
}

func (r *PgCredentialRepository) ReleaseByUser(ctx context.Context, userID uuid.UUID) (*domain.SipCredential, error) {
	query := `
		UPDATE sip_credentials
		SET assigned_user_id = NULL, assigned_at = NULL, updated_at = NOW()
		WHERE assigned_user_id = $1
		RETURNING ` + credentialColumns
	cred, err := scanCredential(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // nothing held; release stays idempotent
		}
		r.logger.ErrorContext(ctx, "Error releasing credential by user", "error", err, "user_id", userID)
		return nil, err
	}
	r.logger.InfoContext(ctx, "Credential released for user", "credential_id", cred.ID, "user_id", userID)
	return cred, nil
}

// UpdateDetails only touches unassigned records; admin corrections must not
// race with an active holder.
func (r *PgCredentialRepository) UpdateDetails(ctx context.Context, cred *domain.SipCredential) (*domain.SipCredential, error) {
	query := `
		UPDATE sip_credentials
		SET username = $2, password = $3, sip_domain = $4, server = $5, port = $6, transport = $7, updated_at = NOW()
		WHERE id = $1 AND assigned_user_id IS NULL
		RETURNING ` + credentialColumns
	updated, err := scanCredential(r.db.QueryRow(ctx, query,
		cred.ID, cred.Username, cred.Password, cred.SipDomain, cred.Server, cred.Port, cred.Transport,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMissing(ctx, cred.ID)
		}
		r.logger.ErrorContext(ctx, "Error updating credential details", "error", err, "credential_id", cred.ID)
		return nil, err
	}
	r.logger.InfoContext(ctx, "Credential details updated", "credential_id", cred.ID)
	return updated, nil
}

func (r *PgCredentialRepository) CountAvailable(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM sip_credentials WHERE assigned_user_id IS NULL`
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		r.logger.ErrorContext(ctx, "Error counting available credentials", "error", err)
		return 0, err
	}
	return count, nil
}

func (r *PgCredentialRepository) CountTotal(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM sip_credentials`
	if err := r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		r.logger.ErrorContext(ctx, "Error counting credentials", "error", err)
		return 0, err
	}
	return count, nil
}

// classifyMissing distinguishes a conditional UPDATE that matched no rows:
// unknown id means ErrNotFound, an existing row means the precondition failed
// and the caller lost the race.
func (r *PgCredentialRepository) classifyMissing(ctx context.Context, id int64) error {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM sip_credentials WHERE id = $1)`
	if err := r.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		r.logger.ErrorContext(ctx, "Error checking credential existence", "error", err, "credential_id", id)
		return err
	}
	if !exists {
		r.logger.WarnContext(ctx, "Credential not found for conditional update", "credential_id", id)
		return domain.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Conditional update lost race", "credential_id", id)
	return domain.ErrConflict
}

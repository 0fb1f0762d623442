package domain

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows and pages List results. Results are always ordered by id
// ascending for stable pagination.
type ListFilter struct {
	OnlyAvailable bool
	Offset        int
	Limit         int
}

// CredentialRepository defines the persistence contract for SIP credentials.
// Assign and ReleaseOwned are the compare-and-swap boundary: each must be a
// single conditional UPDATE so that concurrent requests for the same record
// serialize in the database, never in application locks.
type CredentialRepository interface {
	List(ctx context.Context, filter ListFilter) ([]*SipCredential, error)
	GetByID(ctx context.Context, id int64) (*SipCredential, error)
	// GetByAssignedUser returns the credential held by userID, or nil when the
	// user holds nothing.
	GetByAssignedUser(ctx context.Context, userID uuid.UUID) (*SipCredential, error)

	// Assign sets assigned_user_id to userID only if it is currently NULL.
	// Returns ErrConflict when the record exists but is already held,
	// ErrNotFound when id is unknown.
	Assign(ctx context.Context, id int64, userID uuid.UUID) (*SipCredential, error)
	// ReleaseOwned clears the assignment only if the record is currently held
	// by userID. Same error contract as Assign.
	ReleaseOwned(ctx context.Context, id int64, userID uuid.UUID) (*SipCredential, error)
	// ForceRelease clears the assignment regardless of owner (admin path).
	ForceRelease(ctx context.Context, id int64) (*SipCredential, error)
	// ReleaseByUser clears whatever the user holds. Returns nil, nil when the
	// user holds nothing, making logout hooks idempotent.
	ReleaseByUser(ctx context.Context, userID uuid.UUID) (*SipCredential, error)

	// UpdateDetails corrects the SIP account fields of an unassigned record.
	// Returns ErrConflict if the record is currently assigned.
	UpdateDetails(ctx context.Context, cred *SipCredential) (*SipCredential, error)

	CountAvailable(ctx context.Context) (int, error)
	CountTotal(ctx context.Context) (int, error)
}

// EventPublisher is the subset of the message broker used by the pool service.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

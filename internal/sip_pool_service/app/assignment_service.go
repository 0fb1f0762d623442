package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxline/golang_services/internal/sip_pool_service/domain"
)

// DefaultAssignMaxRetries bounds the candidate CAS attempts in one AssignNext call.
const DefaultAssignMaxRetries = 10

// AssignmentService turns "a user needs a SIP line" into a race-free credential
// handout. All state transitions go through the repository's conditional
// updates; the service itself holds no assignment state.
type AssignmentService struct {
	repo       domain.CredentialRepository
	publisher  domain.EventPublisher // optional; nil disables event publishing
	logger     *slog.Logger
	maxRetries int
}

func NewAssignmentService(repo domain.CredentialRepository, publisher domain.EventPublisher, logger *slog.Logger, maxRetries int) *AssignmentService {
	if maxRetries <= 0 {
		maxRetries = DefaultAssignMaxRetries
	}
	return &AssignmentService{
		repo:       repo,
		publisher:  publisher,
		logger:     logger.With("component", "assignment_service"),
		maxRetries: maxRetries,
	}
}

// AssignNext assigns the lowest-id available credential to userID.
//
// If the user already holds a credential, that credential is returned as-is:
// re-login and retry-after-timeout flows must not hand out a second line.
// Otherwise candidates are fetched fresh (never cached) and attempted in id
// order with the repository CAS; a candidate lost to a concurrent request is
// skipped and the next one is tried, up to min(maxRetries, available count)
// attempts before ErrPoolExhausted. A conflict caused by a parallel request
// for the same user resolves to that request's credential.
func (s *AssignmentService) AssignNext(ctx context.Context, userID uuid.UUID, username, userEmail string) (*domain.SipCredential, error) {
	start := time.Now()
	defer func() { assignmentDurationHist.WithLabelValues("next").Observe(time.Since(start).Seconds()) }()

	existing, err := s.repo.GetByAssignedUser(ctx, userID)
	if err != nil {
		assignmentsTotalCounter.WithLabelValues("next", "error").Inc()
		return nil, err
	}
	if existing != nil {
		s.logger.InfoContext(ctx, "User already holds a credential, returning existing assignment",
			"user_id", userID, "credential_id", existing.ID)
		assignmentsTotalCounter.WithLabelValues("next", "assigned").Inc()
		return existing, nil
	}

	available, err := s.repo.CountAvailable(ctx)
	if err != nil {
		assignmentsTotalCounter.WithLabelValues("next", "error").Inc()
		return nil, err
	}
	if available == 0 {
		s.logger.WarnContext(ctx, "No available credentials in pool", "user_id", userID)
		assignmentsTotalCounter.WithLabelValues("next", "pool_exhausted").Inc()
		return nil, domain.ErrPoolExhausted
	}

	bound := s.maxRetries
	if available < bound {
		bound = available
	}

	candidates, err := s.repo.List(ctx, domain.ListFilter{OnlyAvailable: true, Limit: bound})
	if err != nil {
		assignmentsTotalCounter.WithLabelValues("next", "error").Inc()
		return nil, err
	}

	for _, candidate := range candidates {
		cred, err := s.repo.Assign(ctx, candidate.ID, userID)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound) {
				assignConflictRetriesCounter.Inc()
				// The conflict may be a parallel request for this same user
				// winning first: the holder index rejects a second hold. In
				// that case hand back the record that request obtained.
				held, recheckErr := s.repo.GetByAssignedUser(ctx, userID)
				if recheckErr != nil {
					assignmentsTotalCounter.WithLabelValues("next", "error").Inc()
					return nil, recheckErr
				}
				if held != nil {
					s.logger.InfoContext(ctx, "Parallel request for same user won the assignment, returning its credential",
						"user_id", userID, "credential_id", held.ID)
					assignmentsTotalCounter.WithLabelValues("next", "assigned").Inc()
					return held, nil
				}
				// Lost the race for this record (or it was deleted by an
				// admin mid-flight); move on to the next candidate.
				s.logger.InfoContext(ctx, "Candidate credential taken concurrently, trying next",
					"credential_id", candidate.ID, "user_id", userID)
				continue
			}
			assignmentsTotalCounter.WithLabelValues("next", "error").Inc()
			return nil, err
		}

		assignmentsTotalCounter.WithLabelValues("next", "assigned").Inc()
		s.publishAssigned(ctx, cred, userID, username, userEmail)
		return cred, nil
	}

	s.logger.WarnContext(ctx, "All candidate credentials taken concurrently", "user_id", userID, "candidates", len(candidates))
	assignmentsTotalCounter.WithLabelValues("next", "pool_exhausted").Inc()
	return nil, domain.ErrPoolExhausted
}

// AssignSpecific assigns a particular credential to userID (admin-directed).
// Assigning a record the user already holds is a no-op; a record held by
// another user is ErrConflict.
func (s *AssignmentService) AssignSpecific(ctx context.Context, id int64, userID uuid.UUID, username, userEmail string) (*domain.SipCredential, error) {
	start := time.Now()
	defer func() { assignmentDurationHist.WithLabelValues("specific").Observe(time.Since(start).Seconds()) }()

	cred, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			assignmentsTotalCounter.WithLabelValues("specific", "not_found").Inc()
		} else {
			assignmentsTotalCounter.WithLabelValues("specific", "error").Inc()
		}
		return nil, err
	}

	if cred.IsAssignedTo(userID) {
		assignmentsTotalCounter.WithLabelValues("specific", "assigned").Inc()
		return cred, nil
	}
	if cred.IsAssigned() {
		s.logger.WarnContext(ctx, "Credential already assigned to another user",
			"credential_id", id, "user_id", userID, "holder_id", *cred.AssignedUserID)
		assignmentsTotalCounter.WithLabelValues("specific", "conflict").Inc()
		return nil, domain.ErrConflict
	}

	assigned, err := s.repo.Assign(ctx, id, userID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			assignmentsTotalCounter.WithLabelValues("specific", "conflict").Inc()
		} else {
			assignmentsTotalCounter.WithLabelValues("specific", "error").Inc()
		}
		return nil, err
	}

	assignmentsTotalCounter.WithLabelValues("specific", "assigned").Inc()
	s.publishAssigned(ctx, assigned, userID, username, userEmail)
	return assigned, nil
}

// Release clears a credential's assignment regardless of owner (admin unassign).
func (s *AssignmentService) Release(ctx context.Context, id int64) (*domain.SipCredential, error) {
	// Read first to capture the previous holder for the lifecycle event; the
	// release itself is unconditional so this read cannot cause a bad outcome.
	prev, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	cred, err := s.repo.ForceRelease(ctx, id)
	if err != nil {
		return nil, err
	}

	releasesTotalCounter.WithLabelValues("admin").Inc()
	prevHolder := ""
	if prev.AssignedUserID != nil {
		prevHolder = prev.AssignedUserID.String()
	}
	s.publishReleased(ctx, cred.ID, prevHolder, true)
	return cred, nil
}

// ReleaseOwned clears a credential's assignment only when the caller is the
// current holder (self-service release).
func (s *AssignmentService) ReleaseOwned(ctx context.Context, id int64, userID uuid.UUID) (*domain.SipCredential, error) {
	cred, err := s.repo.ReleaseOwned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	releasesTotalCounter.WithLabelValues("owner").Inc()
	s.publishReleased(ctx, cred.ID, userID.String(), false)
	return cred, nil
}

// ReleaseForUser releases whatever credential userID holds. Called on logout
// and deactivation; idempotent, returns nil when the user held nothing.
func (s *AssignmentService) ReleaseForUser(ctx context.Context, userID uuid.UUID) (*domain.SipCredential, error) {
	cred, err := s.repo.ReleaseByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		s.logger.InfoContext(ctx, "ReleaseForUser: user holds no credential", "user_id", userID)
		releasesTotalCounter.WithLabelValues("noop").Inc()
		return nil, nil
	}
	releasesTotalCounter.WithLabelValues("logout").Inc()
	s.publishReleased(ctx, cred.ID, userID.String(), false)
	return cred, nil
}

// UpdateDetails corrects the SIP account fields of an unassigned credential.
func (s *AssignmentService) UpdateDetails(ctx context.Context, cred *domain.SipCredential) (*domain.SipCredential, error) {
	return s.repo.UpdateDetails(ctx, cred)
}

// GetByID returns a single credential record.
func (s *AssignmentService) GetByID(ctx context.Context, id int64) (*domain.SipCredential, error) {
	return s.repo.GetByID(ctx, id)
}

// PeekNextAvailable returns the lowest-id available credential without
// assigning it. Purely informational: callers that need a guaranteed hold must
// use AssignNext, never an id observed here.
func (s *AssignmentService) PeekNextAvailable(ctx context.Context) (*domain.SipCredential, error) {
	creds, err := s.repo.List(ctx, domain.ListFilter{OnlyAvailable: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, domain.ErrPoolExhausted
	}
	return creds[0], nil
}

// List returns credentials for admin inspection.
func (s *AssignmentService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.SipCredential, error) {
	return s.repo.List(ctx, filter)
}

// Event publishing is best-effort: the assignment already committed, so a
// broker hiccup must not fail the request.
func (s *AssignmentService) publishAssigned(ctx context.Context, cred *domain.SipCredential, userID uuid.UUID, username, userEmail string) {
	if s.publisher == nil {
		return
	}
	assignedAt := time.Now().UTC()
	if cred.AssignedAt != nil {
		assignedAt = *cred.AssignedAt
	}
	event := domain.CredentialAssignedEvent{
		CredentialID: cred.ID,
		UserID:       userID.String(),
		Username:     username,
		UserEmail:    userEmail,
		SipUsername:  cred.Username,
		SipDomain:    cred.SipDomain,
		AssignedAt:   assignedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal assigned event", "error", err, "credential_id", cred.ID)
		return
	}
	if err := s.publisher.Publish(ctx, domain.NATSCredentialAssignedV1, payload); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish assigned event", "error", err, "credential_id", cred.ID)
	}
}

func (s *AssignmentService) publishReleased(ctx context.Context, credentialID int64, previousHolder string, forced bool) {
	if s.publisher == nil {
		return
	}
	event := domain.CredentialReleasedEvent{
		CredentialID: credentialID,
		UserID:       previousHolder,
		Forced:       forced,
		ReleasedAt:   time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to marshal released event", "error", err, "credential_id", credentialID)
		return
	}
	if err := s.publisher.Publish(ctx, domain.NATSCredentialReleasedV1, payload); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish released event", "error", err, "credential_id", credentialID)
	}
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/voxline/golang_services/internal/sip_pool_service/domain"
	"github.com/voxline/golang_services/internal/sip_pool_service/middleware"
)

// AssignmentAPI is the slice of the assignment service the handler needs.
// Declared here so tests can substitute a mock.
type AssignmentAPI interface {
	AssignNext(ctx context.Context, userID uuid.UUID, username, userEmail string) (*domain.SipCredential, error)
	AssignSpecific(ctx context.Context, id int64, userID uuid.UUID, username, userEmail string) (*domain.SipCredential, error)
	Release(ctx context.Context, id int64) (*domain.SipCredential, error)
	ReleaseOwned(ctx context.Context, id int64, userID uuid.UUID) (*domain.SipCredential, error)
	ReleaseForUser(ctx context.Context, userID uuid.UUID) (*domain.SipCredential, error)
	UpdateDetails(ctx context.Context, cred *domain.SipCredential) (*domain.SipCredential, error)
	GetByID(ctx context.Context, id int64) (*domain.SipCredential, error)
	PeekNextAvailable(ctx context.Context) (*domain.SipCredential, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.SipCredential, error)
}

// StatsAPI reports pool utilization.
type StatsAPI interface {
	GetStats(ctx context.Context) (*domain.PoolStats, error)
}

// PoolHandler handles HTTP requests for the SIP credential pool.
type PoolHandler struct {
	assignSvc AssignmentAPI
	statsSvc  StatsAPI
	logger    *slog.Logger
	validate  *validator.Validate
}

func NewPoolHandler(assignSvc AssignmentAPI, statsSvc StatsAPI, logger *slog.Logger, validate *validator.Validate) *PoolHandler {
	return &PoolHandler{
		assignSvc: assignSvc,
		statsSvc:  statsSvc,
		logger:    logger.With("component", "pool_handler"),
		validate:  validate,
	}
}

// RegisterRoutes sets up routing for pool operations. Callers mount this under
// an authenticated router group.
func (h *PoolHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sip-credentials", func(r chi.Router) {
		r.Get("/", h.ListCredentials)
		r.Get("/available/next", h.PeekNextAvailable)
		r.Get("/stats/overview", h.GetStats)
		r.Post("/assign", h.AssignNext)
		r.Get("/{credentialID}", h.GetCredential)
		r.Put("/{credentialID}", h.UpdateCredential)
		r.Put("/{credentialID}/assign", h.AssignSpecific)
		r.Put("/{credentialID}/release", h.Release)
	})
	r.Put("/users/{userID}/release", h.ReleaseForUser)
}

// Helper to respond with the standard envelope.
func respondWithData(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data}); err != nil {
		slog.Default().Error("Failed to write JSON response", "error", err)
	}
}

func respondWithError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIResponse{Success: false, Error: message, Code: code}); err != nil {
		slog.Default().Error("Failed to write JSON error response", "error", err)
	}
}

// respondWithDomainError maps domain errors onto HTTP statuses and envelope codes.
func respondWithDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondWithError(w, http.StatusNotFound, CodeNotFound, "credential not found")
	case errors.Is(err, domain.ErrConflict):
		respondWithError(w, http.StatusConflict, CodeConflict, "credential already assigned")
	case errors.Is(err, domain.ErrPoolExhausted):
		respondWithError(w, http.StatusServiceUnavailable, CodePoolExhausted, "no SIP lines available")
	default:
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

func (h *PoolHandler) credentialIDFromURL(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "credentialID"), 10, 64)
}

func (h *PoolHandler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok || !authUser.IsAdmin {
		respondWithError(w, http.StatusForbidden, CodeForbidden, "admin access required")
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	onlyAvailable := r.URL.Query().Get("available") == "true"

	creds, err := h.assignSvc.List(ctx, domain.ListFilter{OnlyAvailable: onlyAvailable, Offset: offset, Limit: limit})
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list credentials", "error", err)
		respondWithDomainError(w, err)
		return
	}

	dtos := make([]CredentialResponseDTO, 0, len(creds))
	for _, c := range creds {
		dtos = append(dtos, toCredentialDTO(c))
	}
	respondWithData(w, http.StatusOK, ListCredentialsResponseDTO{Credentials: dtos, Offset: offset, Limit: limit})
}

// PeekNextAvailable shows the lowest-id available record without holding it.
// An id seen here can be taken by another caller at any moment; clients that
// need the line must POST /assign.
func (h *PoolHandler) PeekNextAvailable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cred, err := h.assignSvc.PeekNextAvailable(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrPoolExhausted) {
			h.logger.ErrorContext(ctx, "Failed to peek next available credential", "error", err)
		}
		respondWithDomainError(w, err)
		return
	}
	respondWithData(w, http.StatusOK, toCredentialDTO(cred))
}

func (h *PoolHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.statsSvc.GetStats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to compute pool stats", "error", err)
		respondWithDomainError(w, err)
		return
	}
	respondWithData(w, http.StatusOK, stats)
}

func (h *PoolHandler) AssignNext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var reqDTO AssignNextRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "validation failed: "+err.Error())
		return
	}

	userID, err := uuid.Parse(reqDTO.UserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "user_id is not a valid uuid")
		return
	}

	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}
	if !authUser.IsAdmin && authUser.ID != userID {
		respondWithError(w, http.StatusForbidden, CodeForbidden, "cannot assign a credential to another user")
		return
	}

	cred, err := h.assignSvc.AssignNext(ctx, userID, reqDTO.Username, reqDTO.UserEmail)
	if err != nil {
		if !errors.Is(err, domain.ErrPoolExhausted) {
			h.logger.ErrorContext(ctx, "AssignNext failed", "error", err, "user_id", userID)
		}
		respondWithDomainError(w, err)
		return
	}
	respondWithData(w, http.StatusOK, toCredentialDTO(cred))
}

func (h *PoolHandler) AssignSpecific(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok || !authUser.IsAdmin {
		respondWithError(w, http.StatusForbidden, CodeForbidden, "admin access required")
		return
	}

	id, err := h.credentialIDFromURL(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "invalid credential id")
		return
	}

	var reqDTO AssignSpecificRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "validation failed: "+err.Error())
		return
	}
	userID, err := uuid.Parse(reqDTO.UserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "user_id is not a valid uuid")
		return
	}

	cred, err := h.assignSvc.AssignSpecific(ctx, id, userID, reqDTO.Username, reqDTO.UserEmail)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrConflict) {
			h.logger.ErrorContext(ctx, "AssignSpecific failed", "error", err, "credential_id", id, "user_id", userID)
		}
		respondWithDomainError(w, err)
		return
	}
	respondWithData(w, http.StatusOK, toCredentialDTO(cred))
}

// Release clears an assignment. Admins release unconditionally; everyone else
// may only release a credential they currently hold.
func (h *PoolHandler) Release(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}

	id, err := h.credentialIDFromURL(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "invalid credential id")
		return
	}

	var cred *domain.SipCredential
	if authUser.IsAdmin {
		cred, err = h.assignSvc.Release(ctx, id)
	} else {
		cred, err = h.assignSvc.ReleaseOwned(ctx, id, authUser.ID)
	}
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrConflict) {
			h.logger.ErrorContext(ctx, "Release failed", "error", err, "credential_id", id)
		}
		respondWithDomainError(w, err)
		return
	}
	dto := toCredentialDTO(cred)
	respondWithData(w, http.StatusOK, ReleaseResponseDTO{Released: true, Credential: &dto})
}

func (h *PoolHandler) ReleaseForUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "invalid user id")
		return
	}
	if !authUser.IsAdmin && authUser.ID != userID {
		respondWithError(w, http.StatusForbidden, CodeForbidden, "cannot release another user's credential")
		return
	}

	cred, err := h.assignSvc.ReleaseForUser(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "ReleaseForUser failed", "error", err, "user_id", userID)
		respondWithDomainError(w, err)
		return
	}

	resp := ReleaseResponseDTO{Released: cred != nil}
	if cred != nil {
		dto := toCredentialDTO(cred)
		resp.Credential = &dto
	}
	respondWithData(w, http.StatusOK, resp)
}

func (h *PoolHandler) GetCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
		return
	}

	id, err := h.credentialIDFromURL(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "invalid credential id")
		return
	}

	cred, err := h.assignSvc.GetByID(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(ctx, "GetCredential failed", "error", err, "credential_id", id)
		}
		respondWithDomainError(w, err)
		return
	}

	// Credentials carry the SIP password; only admins and the current holder
	// may read a record.
	if !authUser.IsAdmin && !cred.IsAssignedTo(authUser.ID) {
		respondWithError(w, http.StatusForbidden, CodeForbidden, "not the holder of this credential")
		return
	}
	respondWithData(w, http.StatusOK, toCredentialDTO(cred))
}

func (h *PoolHandler) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authUser, ok := middleware.UserFromContext(ctx)
	if !ok || !authUser.IsAdmin {
		respondWithError(w, http.StatusForbidden, CodeForbidden, "admin access required")
		return
	}

	id, err := h.credentialIDFromURL(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "invalid credential id")
		return
	}

	var reqDTO UpdateCredentialRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "invalid request payload: "+err.Error())
		return
	}
	defer r.Body.Close()

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeValidationError, "validation failed: "+err.Error())
		return
	}

	port := reqDTO.Port
	if port == 0 {
		port = domain.DefaultSipPort
	}

	cred, err := h.assignSvc.UpdateDetails(ctx, &domain.SipCredential{
		ID:        id,
		Username:  reqDTO.Username,
		Password:  reqDTO.Password,
		SipDomain: reqDTO.SipDomain,
		Server:    reqDTO.Server,
		Port:      port,
		Transport: reqDTO.Transport,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrConflict) {
			h.logger.ErrorContext(ctx, "UpdateCredential failed", "error", err, "credential_id", id)
		}
		respondWithDomainError(w, err)
		return
	}
	respondWithData(w, http.StatusOK, toCredentialDTO(cred))
}

package http

import (
	"time"

	"github.com/voxline/golang_services/internal/sip_pool_service/domain"
)

// APIResponse is the envelope returned by every endpoint.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Machine-readable codes carried in the envelope.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodePoolExhausted   = "POOL_EXHAUSTED"
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeInternal        = "INTERNAL"
)

type AssignNextRequestDTO struct {
	UserID    string `json:"user_id" validate:"required,uuid"`
	Username  string `json:"username" validate:"required,max=100"`
	UserEmail string `json:"user_email" validate:"required,email"`
}

type AssignSpecificRequestDTO struct {
	UserID    string `json:"user_id" validate:"required,uuid"`
	Username  string `json:"username" validate:"omitempty,max=100"`
	UserEmail string `json:"user_email" validate:"omitempty,email"`
}

type UpdateCredentialRequestDTO struct {
	Username  string `json:"username" validate:"required,max=100"`
	Password  string `json:"password" validate:"required,max=200"`
	SipDomain string `json:"sip_domain" validate:"required,hostname_rfc1123"`
	Server    string `json:"server" validate:"required,max=200"`
	Port      int    `json:"port" validate:"omitempty,gte=1,lte=65535"`
	Transport string `json:"transport" validate:"required,oneof=UDP TCP WSS"`
}

type CredentialResponseDTO struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	Password       string     `json:"password"`
	SipDomain      string     `json:"sip_domain"`
	Server         string     `json:"server"`
	Port           int        `json:"port"`
	Transport      string     `json:"transport"`
	AssignedUserID *string    `json:"assigned_user_id,omitempty"`
	AssignedAt     *time.Time `json:"assigned_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type ListCredentialsResponseDTO struct {
	Credentials []CredentialResponseDTO `json:"credentials"`
	Offset      int                     `json:"offset"`
	Limit       int                     `json:"limit"`
}

type ReleaseResponseDTO struct {
	Released   bool                   `json:"released"`
	Credential *CredentialResponseDTO `json:"credential,omitempty"`
}

func toCredentialDTO(c *domain.SipCredential) CredentialResponseDTO {
	dto := CredentialResponseDTO{
		ID:         c.ID,
		Username:   c.Username,
		Password:   c.Password,
		SipDomain:  c.SipDomain,
		Server:     c.Server,
		Port:       c.Port,
		Transport:  c.Transport,
		AssignedAt: c.AssignedAt,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	if c.AssignedUserID != nil {
		s := c.AssignedUserID.String()
		dto.AssignedUserID = &s
	}
	return dto
}

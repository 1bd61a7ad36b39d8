package models

import (
	"github.com/google/uuid"

	"github.com/ekaya-inc/adpilot/pkg/apperrors"
)

// Scope identifies the advertiser account a change belongs to: a credential
// and an optional sub-account profile.
type Scope struct {
	CredentialID uuid.UUID `json:"credential_id"`
	ProfileID    string    `json:"profile_id,omitempty"`
}

// Validate requires an explicit credential. There is no default account.
func (s Scope) Validate() error {
	if s.CredentialID == uuid.Nil {
		return apperrors.Validationf("credential_id is required")
	}
	return nil
}

// Equal reports whether two scopes address the same account and profile.
func (s Scope) Equal(other Scope) bool {
	return s.CredentialID == other.CredentialID && s.ProfileID == other.ProfileID
}

// ProfilePtr returns the profile as a nullable column value.
func (s Scope) ProfilePtr() *string {
	if s.ProfileID == "" {
		return nil
	}
	p := s.ProfileID
	return &p
}

// String renders the scope for logs.
func (s Scope) String() string {
	if s.ProfileID == "" {
		return s.CredentialID.String()
	}
	return s.CredentialID.String() + "/" + s.ProfileID
}

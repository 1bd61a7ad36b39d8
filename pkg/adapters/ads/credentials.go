package ads

import (
	"context"

	"github.com/google/uuid"

	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/config"
	"github.com/ekaya-inc/adpilot/pkg/models"
)

// StaticCredentialResolver serves one configured credential. Hosts with
// stored, refreshable credentials supply their own resolver.
type StaticCredentialResolver struct {
	credentialID uuid.UUID
	creds        Credentials
}

var _ CredentialResolver = (*StaticCredentialResolver)(nil)

// NewStaticCredentialResolver serves cfg for credentialID. A nil id serves any credential.
func NewStaticCredentialResolver(credentialID uuid.UUID, cfg config.AdsConfig) *StaticCredentialResolver {
	return &StaticCredentialResolver{
		credentialID: credentialID,
		creds: Credentials{
			ClientID:    cfg.ClientID,
			AccessToken: cfg.AccessToken,
			Region:      cfg.Region,
			AccountID:   cfg.AccountID,
		},
	}
}

func (r *StaticCredentialResolver) Resolve(_ context.Context, scope models.Scope) (*Credentials, error) {
	if r.credentialID != uuid.Nil && scope.CredentialID != r.credentialID {
		return nil, apperrors.NotFoundf("credential %s", scope.CredentialID)
	}
	if r.creds.AccessToken == "" {
		return nil, apperrors.Validationf("no access token configured for credential %s", scope.CredentialID)
	}
	creds := r.creds
	creds.ProfileID = scope.ProfileID
	return &creds, nil
}

// Package ads is the adapter to the external advertising platform. Every
// platform call is a named operation with a JSON argument object, reached
// through an MCP session scoped to one advertiser account.
package ads

import (
	"context"

	"github.com/ekaya-inc/adpilot/pkg/models"
)

// Invoker performs one named platform operation.
type Invoker interface {
	Invoke(ctx context.Context, operation string, args map[string]any) (map[string]any, error)
}

// Conn is an open platform connection.
type Conn interface {
	Invoker
	Close() error
}

// SessionFactory opens a session for an advertiser scope.
type SessionFactory interface {
	Open(ctx context.Context, scope models.Scope) (*Session, error)
}

// Credentials are what a session needs to authenticate. Refreshing the
// access token is the resolver's business.
type Credentials struct {
	ClientID    string
	AccessToken string
	Region      string
	ProfileID   string
	AccountID   string
}

// CredentialResolver looks up the credentials for a scope.
type CredentialResolver interface {
	Resolve(ctx context.Context, scope models.Scope) (*Credentials, error)
}

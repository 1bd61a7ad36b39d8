package ads

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/config"
	"github.com/ekaya-inc/adpilot/pkg/logging"
	"github.com/ekaya-inc/adpilot/pkg/models"
	"github.com/ekaya-inc/adpilot/pkg/retry"
)

// dialFunc starts an MCP client against url. Tests swap in an in-process client.
type dialFunc func(ctx context.Context, url string, headers map[string]string) (*client.Client, error)

// MCPSessionFactory opens MCP sessions against the regional endpoint.
type MCPSessionFactory struct {
	cfg      config.AdsConfig
	version  string
	resolver CredentialResolver
	retry    *retry.Config
	dial     dialFunc
	logger   *zap.Logger
}

var _ SessionFactory = (*MCPSessionFactory)(nil)

// NewMCPSessionFactory creates a session factory.
func NewMCPSessionFactory(cfg config.AdsConfig, version string, resolver CredentialResolver, logger *zap.Logger) *MCPSessionFactory {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.ConnectRetries

	return &MCPSessionFactory{
		cfg:      cfg,
		version:  version,
		resolver: resolver,
		retry:    retryCfg,
		dial:     dialStreamableHTTP,
		logger:   logger.Named("ads-adapter"),
	}
}

// Open resolves credentials for the scope and establishes an initialized
// session. Only establishment is retried: nothing has been sent to the
// platform yet.
func (f *MCPSessionFactory) Open(ctx context.Context, scope models.Scope) (*Session, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	creds, err := f.resolver.Resolve(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials for %s: %w", scope, err)
	}

	region := creds.Region
	if region == "" {
		region = f.cfg.Region
	}
	url := f.cfg.EndpointURL
	if url == "" {
		if url, err = RegionURL(region); err != nil {
			return nil, err
		}
	}

	// The record's profile wins over the credential default.
	if scope.ProfileID != "" {
		creds.ProfileID = scope.ProfileID
	}
	if creds.AccountID == "" {
		creds.AccountID = f.cfg.AccountID
	}
	headers := Headers(creds)

	attempt := 0
	c, err := retry.DoIfRetryableWithResult(ctx, f.retry, func() (*client.Client, error) {
		attempt++
		c, err := f.dial(ctx, url, headers)
		if err != nil {
			return nil, apperrors.NewAdapterError(apperrors.AdapterErrorTransport, "",
				"connect to "+describeEndpoint(url), err)
		}
		if err := initialize(ctx, c, f.version); err != nil {
			_ = c.Close()
			return nil, apperrors.NewAdapterError(apperrors.AdapterErrorTransport, "",
				"initialize "+describeEndpoint(url), err)
		}
		return c, nil
	})
	if err != nil {
		f.logger.Error("Failed to open ads session",
			zap.String("scope", scope.String()),
			zap.Int("attempts", attempt),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}

	f.logger.Info("Opened ads session",
		zap.String("scope", scope.String()),
		zap.String("region", region))

	conn := &mcpConn{client: c, logger: f.logger}
	return NewSession(conn, f.cfg.MaxPages, f.logger), nil
}

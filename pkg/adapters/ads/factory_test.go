package ads

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/config"
	"github.com/ekaya-inc/adpilot/pkg/models"
	"github.com/ekaya-inc/adpilot/pkg/retry"
)

func fastRetry(maxRetries int) *retry.Config {
	return &retry.Config{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}
}

// newFakeAdsServer registers the handful of tools the tests call.
func newFakeAdsServer(t *testing.T) *server.MCPServer {
	t.Helper()

	s := server.NewMCPServer("fake-ads", "1.0.0", server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool(models.ToolUpdateTargetBid), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, _ := req.GetArguments()["body"].(map[string]any)
		targets, _ := body["targets"].([]any)
		out, _ := json.Marshal(map[string]any{"success": targets})
		return mcp.NewToolResultText(string(out)), nil
	})
	s.AddTool(mcp.NewTool(models.ToolUpdateCampaignState), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("Campaign is archived"), nil
	})
	s.AddTool(mcp.NewTool(models.ToolQueryTarget), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		body, _ := req.GetArguments()["body"].(map[string]any)
		if body["nextToken"] == nil {
			return mcp.NewToolResultText(`{"targets":[{"targetId":"T1"}],"nextToken":"p2"}`), nil
		}
		return mcp.NewToolResultText(`{"targets":[{"targetId":"T2"}]}`), nil
	})

	return s
}

func newTestFactory(t *testing.T, srv *server.MCPServer) (*MCPSessionFactory, *map[string]string) {
	t.Helper()

	cfg := config.AdsConfig{
		Region:      "na",
		ClientID:    "client",
		AccessToken: "secret-token",
		MaxPages:    20,
	}
	f := NewMCPSessionFactory(cfg, "test", NewStaticCredentialResolver(uuid.Nil, cfg), zap.NewNop())
	f.retry = fastRetry(2)

	seen := map[string]string{}
	f.dial = func(ctx context.Context, url string, headers map[string]string) (*client.Client, error) {
		for k, v := range headers {
			seen[k] = v
		}
		c, err := client.NewInProcessClient(srv)
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
	return f, &seen
}

func TestMCPSessionFactory_OpenAndInvoke(t *testing.T) {
	f, seen := newTestFactory(t, newFakeAdsServer(t))
	ctx := context.Background()

	scope := models.Scope{CredentialID: uuid.New(), ProfileID: "P1"}
	s, err := f.Open(ctx, scope)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "P1", (*seen)[HeaderProfileScope])
	assert.Equal(t, "Bearer secret-token", (*seen)[HeaderAuthorization])
	assert.Equal(t, "FIXED", (*seen)[HeaderSelectionMode])

	cmd := models.BidUpdateCommand("T1", 0.4)
	res, err := s.Invoke(ctx, cmd.Operation, cmd.Arguments)
	require.NoError(t, err)
	success, _ := res["success"].([]any)
	require.Len(t, success, 1)
	assert.Equal(t, "T1", success[0].(map[string]any)["targetId"])
}

func TestMCPSessionFactory_PlatformError(t *testing.T) {
	f, _ := newTestFactory(t, newFakeAdsServer(t))
	ctx := context.Background()

	s, err := f.Open(ctx, models.Scope{CredentialID: uuid.New()})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.UpdateCampaignState(ctx, []map[string]any{{"campaignId": "C1", "state": "PAUSED"}})
	var adapterErr *apperrors.AdapterError
	require.True(t, errors.As(err, &adapterErr))
	assert.Equal(t, apperrors.AdapterErrorPlatform, adapterErr.Kind)
	assert.Contains(t, adapterErr.Message, "Campaign is archived")
}

func TestMCPSessionFactory_PaginatedQuery(t *testing.T) {
	f, _ := newTestFactory(t, newFakeAdsServer(t))
	ctx := context.Background()

	s, err := f.Open(ctx, models.Scope{CredentialID: uuid.New()})
	require.NoError(t, err)
	defer s.Close()

	targets, err := s.QueryTargets(ctx, "C1", "")
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "T1", targets[0]["targetId"])
	assert.Equal(t, "T2", targets[1]["targetId"])
}

func TestMCPSessionFactory_RetriesTransportFailures(t *testing.T) {
	f, _ := newTestFactory(t, newFakeAdsServer(t))

	attempts := 0
	f.dial = func(ctx context.Context, url string, headers map[string]string) (*client.Client, error) {
		attempts++
		return nil, errors.New("connection refused")
	}

	_, err := f.Open(context.Background(), models.Scope{CredentialID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var adapterErr *apperrors.AdapterError
	require.True(t, errors.As(err, &adapterErr))
	assert.Equal(t, apperrors.AdapterErrorTransport, adapterErr.Kind)
}

func TestMCPSessionFactory_CredentialFailureNotRetried(t *testing.T) {
	cfg := config.AdsConfig{Region: "na", ClientID: "client"}
	f := NewMCPSessionFactory(cfg, "test", NewStaticCredentialResolver(uuid.Nil, cfg), zap.NewNop())

	attempts := 0
	f.dial = func(ctx context.Context, url string, headers map[string]string) (*client.Client, error) {
		attempts++
		return nil, errors.New("unreachable")
	}

	_, err := f.Open(context.Background(), models.Scope{CredentialID: uuid.New()})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Zero(t, attempts)
}

func TestMCPSessionFactory_RequiresScope(t *testing.T) {
	f, _ := newTestFactory(t, newFakeAdsServer(t))

	_, err := f.Open(context.Background(), models.Scope{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestStaticCredentialResolver_PinnedCredential(t *testing.T) {
	pinned := uuid.New()
	r := NewStaticCredentialResolver(pinned, config.AdsConfig{AccessToken: "tok"})

	creds, err := r.Resolve(context.Background(), models.Scope{CredentialID: pinned, ProfileID: "P9"})
	require.NoError(t, err)
	assert.Equal(t, "P9", creds.ProfileID)

	_, err = r.Resolve(context.Background(), models.Scope{CredentialID: uuid.New()})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

package ads

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/apperrors"
	"github.com/ekaya-inc/adpilot/pkg/logging"
)

// Regional MCP endpoints.
var regionURLs = map[string]string{
	"na": "https://advertising-ai.amazon.com/mcp",
	"eu": "https://advertising-ai-eu.amazon.com/mcp",
	"fe": "https://advertising-ai-fe.amazon.com/mcp",
}

// Header names sent on every MCP request.
const (
	HeaderClientID      = "Amazon-Ads-ClientId"
	HeaderAuthorization = "Authorization"
	HeaderAccept        = "Accept"
	HeaderProfileScope  = "Amazon-Advertising-API-Scope"
	HeaderAccountID     = "Amazon-Ads-AccountID"
	HeaderSelectionMode = "Amazon-Ads-AI-Account-Selection-Mode"
)

// Fragments the platform uses for schema rejections delivered as plain text.
var validationMarkers = []string{"Validation failed", "Validation error"}

// RegionURL returns the MCP endpoint for a region.
func RegionURL(region string) (string, error) {
	url, ok := regionURLs[strings.ToLower(region)]
	if !ok {
		return "", apperrors.Validationf("unsupported region %q: use na, eu, or fe", region)
	}
	return url, nil
}

// Headers builds the request headers for a set of credentials. Pinning a
// profile or account switches account selection to FIXED.
func Headers(creds *Credentials) map[string]string {
	h := map[string]string{
		HeaderClientID:      creds.ClientID,
		HeaderAuthorization: "Bearer " + creds.AccessToken,
		HeaderAccept:        "application/json, text/event-stream",
	}
	fixed := false
	if creds.ProfileID != "" {
		h[HeaderProfileScope] = creds.ProfileID
		fixed = true
	}
	if creds.AccountID != "" {
		h[HeaderAccountID] = creds.AccountID
		fixed = true
	}
	if fixed {
		h[HeaderSelectionMode] = "FIXED"
	}
	return h
}

// dialStreamableHTTP starts a streamable HTTP MCP client.
func dialStreamableHTTP(ctx context.Context, url string, headers map[string]string) (*client.Client, error) {
	c, err := client.NewStreamableHttpClient(url, transport.WithHTTPHeaders(headers))
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// mcpConn is a Conn over an initialized MCP client session.
type mcpConn struct {
	client *client.Client
	logger *zap.Logger
}

var _ Conn = (*mcpConn)(nil)

// initialize performs the MCP handshake on a started client.
func initialize(ctx context.Context, c *client.Client, version string) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{
		Name:    "adpilot",
		Version: version,
	}
	req.Params.Capabilities = mcp.ClientCapabilities{}

	_, err := c.Initialize(ctx, req)
	return err
}

func (m *mcpConn) Invoke(ctx context.Context, operation string, args map[string]any) (map[string]any, error) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	m.logger.Debug("Calling ads tool", zap.String("operation", operation), zap.Strings("arg_keys", keys))

	req := mcp.CallToolRequest{}
	req.Params.Name = operation
	req.Params.Arguments = args

	res, err := m.client.CallTool(ctx, req)
	if err != nil {
		m.logger.Error("Ads tool call failed",
			zap.String("operation", operation),
			zap.String("error", logging.SanitizeError(err)))
		return nil, apperrors.NewAdapterError(apperrors.AdapterErrorTransport, operation, "call failed", err)
	}
	return ParseToolResult(operation, res)
}

func (m *mcpConn) Close() error {
	return m.client.Close()
}

// contentParts collects the text (or binary data) of each content item.
func contentParts(res *mcp.CallToolResult) []string {
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		case mcp.ImageContent:
			parts = append(parts, v.Data)
		case *mcp.ImageContent:
			parts = append(parts, v.Data)
		}
	}
	return parts
}

func hasValidationMarker(text string) bool {
	for _, marker := range validationMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// ParseToolResult converts a tool result into a JSON object.
//
// A single content part is decoded as JSON; arrays and scalars are wrapped as
// {"result": v}. Non-JSON text is wrapped the same way unless it is a schema
// rejection. Any other number of parts becomes {"result": [parts...]}.
// Results flagged as errors become platform errors, or structural errors for
// schema rejections.
func ParseToolResult(operation string, res *mcp.CallToolResult) (map[string]any, error) {
	if res == nil {
		return nil, apperrors.NewAdapterError(apperrors.AdapterErrorTransport, operation, "empty tool result", nil)
	}

	parts := contentParts(res)

	if res.IsError {
		msg := logging.TruncateString(strings.Join(parts, "\n"), 500)
		kind := apperrors.AdapterErrorPlatform
		if hasValidationMarker(msg) {
			kind = apperrors.AdapterErrorStructural
		}
		return nil, apperrors.NewAdapterError(kind, operation, msg, nil)
	}

	if len(parts) != 1 {
		items := make([]any, len(parts))
		for i, p := range parts {
			items[i] = p
		}
		return map[string]any{"result": items}, nil
	}

	text := parts[0]
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		if hasValidationMarker(text) {
			return nil, apperrors.NewAdapterError(apperrors.AdapterErrorStructural, operation,
				logging.TruncateString(text, 500), nil)
		}
		return map[string]any{"result": text}, nil
	}

	if obj, ok := parsed.(map[string]any); ok {
		return obj, nil
	}
	return map[string]any{"result": parsed}, nil
}

// describeEndpoint is used in error messages without leaking credentials.
func describeEndpoint(url string) string {
	return fmt.Sprintf("MCP endpoint %s", url)
}

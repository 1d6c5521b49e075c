package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/tally/internal/logging"
)

type contextKey int

const userIDKey contextKey = iota

// DefaultUser owns everything when auth is disabled.
const DefaultUser = "local"

// userID extracts the authenticated user from context.
func userID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// UserResolver resolves a user id from a bearer token.
type UserResolver interface {
	ResolveUser(ctx context.Context, token string) (string, error)
}

// authMiddleware implements bearer token authentication as MCP middleware.
func authMiddleware(resolver UserResolver) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if method == "initialize" || method == "ping" || strings.HasPrefix(method, "notifications/") {
				return next(ctx, method, req)
			}

			extra := req.GetExtra()
			if extra == nil || extra.Header == nil {
				return nil, fmt.Errorf("unauthorized: missing headers")
			}

			token := strings.TrimSpace(strings.TrimPrefix(extra.Header.Get("Authorization"), "Bearer "))
			if token == "" {
				return nil, fmt.Errorf("unauthorized: missing bearer token")
			}

			user, err := resolver.ResolveUser(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("unauthorized: %w", err)
			}

			ctx = context.WithValue(ctx, userIDKey, user)
			return next(ctx, method, req)
		}
	}
}

// noAuthMiddleware injects a fixed user when auth is disabled.
func noAuthMiddleware(user string) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			return next(context.WithValue(ctx, userIDKey, user), method, req)
		}
	}
}

// correlationMiddleware tags each request with a correlation id, taken from
// the X-Correlation-Id header (HTTP) or _meta.correlation_id (stdio) when
// the client sends one.
func correlationMiddleware() sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			var id string
			if extra := req.GetExtra(); extra != nil && extra.Header != nil {
				id = extra.Header.Get("X-Correlation-Id")
			}
			if id == "" {
				id = metaString(req, "correlation_id")
			}
			if id == "" {
				id = uuid.NewString()
			}
			return next(logging.WithCorrelationID(ctx, id), method, req)
		}
	}
}

// metaString reads a string from the request's _meta. Some notifications
// carry typed-nil params, so GetMeta may panic.
func metaString(req sdkmcp.Request, key string) (s string) {
	params := req.GetParams()
	if params == nil {
		return ""
	}
	defer func() { recover() }()
	if meta := params.GetMeta(); meta != nil {
		s, _ = meta[key].(string)
	}
	return s
}

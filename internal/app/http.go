package app

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rpggio/tally/internal/mcp"
	"github.com/rpggio/tally/internal/realtime"
)

var errForbidden = errors.New("forbidden")

// MCPServices exposes the engine to the MCP tools.
func (a *App) MCPServices() mcp.Services {
	return mcp.Services{
		Writer:     a.Coordinator,
		Projects:   a.Projects,
		Opinions:   a.Opinions,
		Tasks:      a.Tasks,
		Topics:     a.Topics,
		Counts:     a.Counts,
		Protection: a.Protection,
		Quota:      a.Quota,
		Bulk:       a.Bulk,
		Analysis:   a.Analysis,
		Journal:    a.Journal,
		Search:     a.Search,
	}
}

// MCPServer builds the MCP server for the configured transport.
func (a *App) MCPServer(version string) *sdkmcp.Server {
	return mcp.NewServer(mcp.Config{
		Services:      a.MCPServices(),
		Resolver:      a.APIKeys,
		AuthEnabled:   a.Config.Auth.Enabled,
		TransportMode: a.Config.Server.Transport,
		Version:       version,
		Logger:        a.Logger,
	})
}

// Handler serves MCP over streamable HTTP together with the websocket,
// health and metrics endpoints.
func (a *App) Handler(server *sdkmcp.Server) http.Handler {
	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(*http.Request) *sdkmcp.Server { return server },
		&sdkmcp.StreamableHTTPOptions{SessionTimeout: 30 * time.Minute},
	)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcpHandler)
	mux.Handle("/mcp/", mcpHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	realtime.NewHandler(a.Hub, a.Replica, a.authorize, a.Logger).Register(mux)
	return mux
}

// authorize lets a websocket client observe only what its API key owns:
// its own user scope, projects it owns and replica paths below its user.
func (a *App) authorize(r *http.Request, scope string) error {
	if !a.Config.Auth.Enabled {
		return nil
	}
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if token == "" {
		// Browsers cannot set headers on websocket upgrades.
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return fmt.Errorf("%w: missing bearer token", errForbidden)
	}
	user, err := a.APIKeys.ResolveUser(r.Context(), token)
	if err != nil {
		return err
	}

	if rest, ok := strings.CutPrefix(scope, "users/"); ok {
		owner, _, _ := strings.Cut(rest, "/")
		if owner != user {
			return fmt.Errorf("%w: path %s", errForbidden, scope)
		}
		return nil
	}

	kind, id, err := realtime.ParseScope(scope)
	if err != nil {
		return err
	}
	switch kind {
	case "user":
		if id != user {
			return fmt.Errorf("%w: scope %s", errForbidden, scope)
		}
	case "project":
		proj, err := a.Projects.FindByAnyID(r.Context(), id, user)
		if err != nil || proj == nil {
			return fmt.Errorf("%w: scope %s", errForbidden, scope)
		}
	}
	return nil
}

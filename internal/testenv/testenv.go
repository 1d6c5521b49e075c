// Package testenv builds the whole engine in memory for tests.
package testenv

import (
	"context"
	"net/http/httptest"
	"testing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/tally/internal/app"
	"github.com/rpggio/tally/internal/config"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/sentiment"
	tallysync "github.com/rpggio/tally/internal/sync"
	"github.com/stretchr/testify/require"
)

// Env is an in-memory engine.
type Env struct {
	*app.App
}

// Config returns a configuration backed by in-memory stores.
func Config() config.Config {
	cfg := config.Default()
	cfg.DB.Path = ":memory:"
	cfg.Replica.InMemory = true
	cfg.Server.Transport = "http"
	return cfg
}

// New builds an engine from Config with the lexicon classifier, so no test
// reaches the network.
func New(t *testing.T, opts ...app.Option) *Env {
	t.Helper()
	return NewWithConfig(t, Config(), opts...)
}

// NewWithConfig builds an engine from cfg.
func NewWithConfig(t *testing.T, cfg config.Config, opts ...app.Option) *Env {
	t.Helper()
	opts = append([]app.Option{app.WithClassifier(sentiment.Lexicon{})}, opts...)
	a, err := app.New(cfg, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return &Env{App: a}
}

// Project creates a project owned by ownerID.
func (e *Env) Project(t *testing.T, ownerID, name string) *project.Project {
	t.Helper()
	proj, err := e.Coordinator.CreateProject(context.Background(), project.Project{
		OwnerID: ownerID,
		Name:    name,
	}, tallysync.WithActor(ownerID))
	require.NoError(t, err)
	return proj
}

// AddAPIKey registers token for userID.
func (e *Env) AddAPIKey(t *testing.T, token, userID string) {
	t.Helper()
	require.NoError(t, e.APIKeys.Create(context.Background(), token, userID, "test"))
}

// MCP connects an in-memory client to a fresh MCP server.
func (e *Env) MCP(t *testing.T) *sdkmcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := sdkmcp.NewInMemoryTransports()
	ss, err := e.MCPServer("test").Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "testenv", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

// Server starts the HTTP surface on a test server.
func (e *Env) Server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(e.Handler(e.MCPServer("test")))
	t.Cleanup(srv.Close)
	return srv
}

package functional_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/tally/internal/testenv"
	"github.com/stretchr/testify/require"
)

// bearerTransport adds an API key to every request.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (b bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.base.RoundTrip(req)
}

func connectHTTP(t *testing.T, endpoint, token string) *sdkmcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transport := &sdkmcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Transport: bearerTransport{token: token, base: http.DefaultTransport}},
	}
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "http-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func callText(t *testing.T, s *sdkmcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := s.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	return res.Content[0].(*sdkmcp.TextContent).Text, res.IsError
}

func TestHTTPFunctional_APIKeysIsolateUsers(t *testing.T) {
	cfg := testenv.Config()
	cfg.Auth.Enabled = true
	env := testenv.NewWithConfig(t, cfg)
	env.AddAPIKey(t, "alice-key", "alice")
	env.AddAPIKey(t, "bob-key", "bob")
	srv := env.Server(t)

	alice := connectHTTP(t, srv.URL+"/mcp", "alice-key")
	bob := connectHTTP(t, srv.URL+"/mcp", "bob-key")

	text, isErr := callText(t, alice, "create_project", map[string]any{"name": "Alice's board"})
	require.False(t, isErr, text)
	var proj struct {
		ID      string `json:"id"`
		OwnerID string `json:"ownerId"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &proj))
	require.Equal(t, "alice", proj.OwnerID)

	text, isErr = callText(t, bob, "get_project", map[string]any{"project_id": proj.ID})
	require.True(t, isErr)
	var apiErr struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &apiErr))
	require.Equal(t, "NOT_FOUND", apiErr.Code)

	text, isErr = callText(t, bob, "list_projects", map[string]any{})
	require.False(t, isErr, text)
	require.JSONEq(t, `{"projects":[]}`, text)
}

func TestHTTPFunctional_UnknownKeyIsRejected(t *testing.T) {
	cfg := testenv.Config()
	cfg.Auth.Enabled = true
	env := testenv.NewWithConfig(t, cfg)
	srv := env.Server(t)

	session := connectHTTP(t, srv.URL+"/mcp", "nobody")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: "list_projects", Arguments: map[string]any{}})
	require.Error(t, err)
}

func TestHTTPFunctional_MetricsEndpoint(t *testing.T) {
	env := testenv.New(t)
	srv := env.Server(t)
	env.Project(t, "local", "Counted")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

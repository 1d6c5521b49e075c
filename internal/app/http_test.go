package app_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/realtime"
	tallysync "github.com/rpggio/tally/internal/sync"
	"github.com/rpggio/tally/internal/testenv"
	"github.com/stretchr/testify/require"
)

func wsURL(base, path string) string {
	return "ws" + strings.TrimPrefix(base, "http") + path
}

func TestHandler_Health(t *testing.T) {
	srv := testenv.New(t).Server(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))
}

func TestHandler_EventsFollowCommittedWrites(t *testing.T) {
	env := testenv.New(t)
	srv := env.Server(t)
	proj := env.Project(t, "owner-1", "Live")

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL, "/ws/events?scope="+realtime.ProjectScope(proj.ID)), nil)
	require.NoError(t, err)
	defer ws.Close()

	_, err = env.Coordinator.CreateOpinion(context.Background(), opinion.Opinion{
		ProjectID: proj.ID,
		Content:   "works on my phone",
	}, tallysync.WithActor("owner-1"))
	require.NoError(t, err)

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event realtime.Event
	require.NoError(t, ws.ReadJSON(&event))
	require.Equal(t, realtime.ProjectScope(proj.ID), event.Scope)
	require.Equal(t, "opinion.created", event.Kind)
}

func TestHandler_EventsRequireOwnership(t *testing.T) {
	cfg := testenv.Config()
	cfg.Auth.Enabled = true
	env := testenv.NewWithConfig(t, cfg)
	env.AddAPIKey(t, "key-1", "owner-1")
	env.AddAPIKey(t, "key-2", "owner-2")
	srv := env.Server(t)
	proj := env.Project(t, "owner-1", "Private")

	url := wsURL(srv.URL, "/ws/events?scope="+realtime.ProjectScope(proj.ID))

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"&token=key-2", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": []string{"Bearer key-1"}})
	require.NoError(t, err)
	ws.Close()
}

func TestHandler_BadScope(t *testing.T) {
	srv := testenv.New(t).Server(t)

	resp, err := http.Get(srv.URL + "/ws/events?scope=team:1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

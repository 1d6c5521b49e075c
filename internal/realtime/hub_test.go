package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rpggio/tally/internal/replica"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	kind, id, err := ParseScope("project:p1")
	require.NoError(t, err)
	require.Equal(t, "project", kind)
	require.Equal(t, "p1", id)

	for _, bad := range []string{"", "project:", "team:x", "p1"} {
		_, _, err := ParseScope(bad)
		require.ErrorIs(t, err, ErrInvalidScope, bad)
	}
}

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub(4, nil)
	ctx := context.Background()

	sub, err := hub.Subscribe(ProjectScope("p1"))
	require.NoError(t, err)
	other, err := hub.Subscribe(ProjectScope("p2"))
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, ProjectScope("p1"), "opinion.created", map[string]string{"id": "o1"}))

	select {
	case event := <-sub.C:
		require.Equal(t, "opinion.created", event.Kind)
		require.Equal(t, "project:p1", event.Scope)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	require.Empty(t, other.C)

	sub.Close()
	sub.Close()
	require.Equal(t, 0, hub.Subscribers(ProjectScope("p1")))
	_, open := <-sub.C
	require.False(t, open)
}

func TestHub_DropsWhenFull(t *testing.T) {
	hub := NewHub(1, nil)
	ctx := context.Background()
	sub, err := hub.Subscribe(UserScope("u1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, hub.Publish(ctx, UserScope("u1"), "a", nil))
	require.NoError(t, hub.Publish(ctx, UserScope("u1"), "b", nil))

	event := <-sub.C
	require.Equal(t, "a", event.Kind)
	require.Empty(t, sub.C)
}

func TestHub_RejectsBadScope(t *testing.T) {
	hub := NewHub(1, nil)
	require.ErrorIs(t, hub.Publish(context.Background(), "nope", "x", nil), ErrInvalidScope)
	_, err := hub.Subscribe("nope")
	require.ErrorIs(t, err, ErrInvalidScope)
}

func TestHandler_ServeEvents(t *testing.T) {
	hub := NewHub(8, nil)
	mux := http.NewServeMux()
	NewHandler(hub, nil, nil, nil).Register(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events?scope=project:p1"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return hub.Subscribers(ProjectScope("p1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), ProjectScope("p1"), "task.updated", map[string]any{"id": "k1"}))

	var event Event
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, ws.ReadJSON(&event))
	require.Equal(t, "task.updated", event.Kind)
}

func TestHandler_ServeEvents_BadScope(t *testing.T) {
	hub := NewHub(8, nil)
	server := httptest.NewServer(http.HandlerFunc(NewHandler(hub, nil, nil, nil).ServeEvents))
	defer server.Close()

	resp, err := http.Get(server.URL + "?scope=team:1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_ServeEvents_Forbidden(t *testing.T) {
	hub := NewHub(8, nil)
	deny := func(r *http.Request, scope string) error { return errForbidden }
	server := httptest.NewServer(http.HandlerFunc(NewHandler(hub, nil, deny, nil).ServeEvents))
	defer server.Close()

	resp, err := http.Get(server.URL + "?scope=user:u2")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_ServeReplica(t *testing.T) {
	store, err := replica.Open(replica.InMemoryConfig())
	require.NoError(t, err)
	defer store.Close()

	mux := http.NewServeMux()
	NewHandler(NewHub(1, nil), store, nil, nil).Register(mux)
	server := httptest.NewServer(mux)
	defer server.Close()

	projectPath := replica.ProjectPath("u1", "r1")
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/replica?path=" + projectPath
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	msgs := make(chan ReplicaMessage, 32)
	go func() {
		for {
			var msg ReplicaMessage
			if err := ws.ReadJSON(&msg); err != nil {
				close(msgs)
				return
			}
			msgs <- msg
		}
	}()

	opinionPath := replica.OpinionPath("u1", "r1", "o1")
	require.Eventually(t, func() bool {
		require.NoError(t, store.Set(context.Background(), opinionPath, map[string]any{"id": "o1", "content": "hi"}))
		select {
		case msg := <-msgs:
			return msg.Path == opinionPath && msg.Document["content"] == "hi"
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}

var errForbidden = errors.New("forbidden")

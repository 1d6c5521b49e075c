package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rpggio/tally/internal/codec"
	"github.com/rpggio/tally/internal/logging"
	"github.com/rpggio/tally/internal/replica"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Watcher streams replica changes below a path.
type Watcher interface {
	Watch(ctx context.Context, prefix string, fn func(replica.Change) error) error
}

// Authorizer decides whether the request may observe scope (an event scope
// or a replica path). Nil allows everything.
type Authorizer func(r *http.Request, scope string) error

// Handler serves the websocket endpoints.
type Handler struct {
	hub       *Hub
	watcher   Watcher
	authorize Authorizer
	logger    *slog.Logger
}

// NewHandler creates websocket handlers over hub and watcher.
func NewHandler(hub *Hub, watcher Watcher, authorize Authorizer, logger *slog.Logger) *Handler {
	return &Handler{
		hub:       hub,
		watcher:   watcher,
		authorize: authorize,
		logger:    logging.Component(logger, "websocket"),
	}
}

// Register mounts the endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ws/events", h.ServeEvents)
	mux.HandleFunc("/ws/replica", h.ServeReplica)
}

// ServeEvents streams notifier events for ?scope=project:<id>|user:<id>.
func (h *Handler) ServeEvents(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if _, _, err := ParseScope(scope); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !h.allowed(w, r, scope) {
		return
	}

	sub, err := h.hub.Subscribe(scope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer sub.Close()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	h.logger.Info("event subscriber connected", "scope", scope)

	closed := readUntilClosed(ws)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			h.logger.Info("event subscriber disconnected", "scope", scope)
			return
		case <-r.Context().Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeJSON(ws, event); err != nil {
				h.logger.Warn("failed to write event", "scope", scope, "error", err)
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReplicaMessage is one replica change as sent to websocket clients.
type ReplicaMessage struct {
	Path     string         `json:"path"`
	Removed  bool           `json:"removed"`
	Document map[string]any `json:"document,omitempty"`
}

// ServeReplica streams replica document changes below ?path=<prefix>.
func (h *Handler) ServeReplica(w http.ResponseWriter, r *http.Request) {
	if h.watcher == nil {
		http.Error(w, "replica watch unavailable", http.StatusNotImplemented)
		return
	}
	prefix := r.URL.Query().Get("path")
	if prefix == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	if !h.allowed(w, r, prefix) {
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		<-readUntilClosed(ws)
		cancel()
	}()

	h.logger.Info("replica watcher connected", "path", prefix)
	err = h.watcher.Watch(ctx, prefix, func(change replica.Change) error {
		msg := ReplicaMessage{Path: change.Path, Removed: change.Removed}
		if !change.Removed {
			doc := map[string]any{}
			if err := codec.Unmarshal(change.Data, &doc); err != nil {
				h.logger.Warn("undecodable replica document", "path", change.Path, "error", err)
				return nil
			}
			msg.Document = doc
		}
		return writeJSON(ws, msg)
	})
	if err != nil {
		h.logger.Warn("replica watch ended", "path", prefix, "error", err)
	}
}

func (h *Handler) allowed(w http.ResponseWriter, r *http.Request, scope string) bool {
	if h.authorize == nil {
		return true
	}
	if err := h.authorize(r, scope); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return false
	}
	return true
}

func writeJSON(ws *websocket.Conn, v any) error {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(v)
}

// readUntilClosed drains client frames so control messages are processed,
// and closes the returned channel when the client goes away.
func readUntilClosed(ws *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}

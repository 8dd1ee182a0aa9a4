// Package bridge connects the worker context to open page contexts. It is
// the Go stand-in for clients.matchAll() plus postMessage: page processes
// attach over a websocket and receive broadcast events.
package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/events"
)

// Conn is the slice of the websocket connection the hub uses. Satisfied by
// *websocket.Conn.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// ClientInfo is a snapshot of one attached page context.
type ClientInfo struct {
	ID      string
	URL     string
	Focused bool
}

// stateUpdate is what a page sends upward: its current URL and focus state.
type stateUpdate struct {
	URL     string `json:"url"`
	Focused bool   `json:"focused"`
}

type client struct {
	info ClientInfo
	conn Conn
}

// Hub tracks attached page clients and broadcasts worker events to them.
type Hub struct {
	mu            sync.RWMutex
	clients       map[string]*client
	canOpenWindow bool
	logger        *slog.Logger
}

// NewHub builds a hub. canOpenWindow mirrors the platform's
// clients.openWindow capability.
func NewHub(canOpenWindow bool, logger *slog.Logger) *Hub {
	return &Hub{
		clients:       make(map[string]*client),
		canOpenWindow: canOpenWindow,
		logger:        logger,
	}
}

// Attach registers a page connection and starts its read loop, which keeps
// the client's URL and focus state current until the connection drops.
func (h *Hub) Attach(conn Conn, url string, focused bool) string {
	id := uuid.NewString()
	h.mu.Lock()
	h.clients[id] = &client{
		info: ClientInfo{ID: id, URL: url, Focused: focused},
		conn: conn,
	}
	h.mu.Unlock()
	h.logger.Debug("page client attached", slog.String("client_id", id), slog.String("url", url))

	go h.readLoop(id, conn)
	return id
}

func (h *Hub) readLoop(id string, conn Conn) {
	for {
		var update stateUpdate
		if err := conn.ReadJSON(&update); err != nil {
			h.Detach(id)
			return
		}
		h.mu.Lock()
		if c, ok := h.clients[id]; ok {
			c.info.URL = update.URL
			c.info.Focused = update.Focused
		}
		h.mu.Unlock()
	}
}

// Detach removes a client and closes its connection.
func (h *Hub) Detach(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	delete(h.clients, id)
	h.mu.Unlock()
	if ok {
		_ = c.conn.Close()
		h.logger.Debug("page client detached", slog.String("client_id", id))
	}
}

// Clients snapshots the attached page contexts.
func (h *Hub) Clients() []ClientInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	infos := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		infos = append(infos, c.info)
	}
	return infos
}

// HasClients reports whether any page context is attached.
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// Broadcast posts event to every attached client. A failed write detaches
// the client; the rest still receive the event.
func (h *Hub) Broadcast(event events.Event) {
	h.mu.RLock()
	targets := make(map[string]Conn, len(h.clients))
	for id, c := range h.clients {
		targets[id] = c.conn
	}
	h.mu.RUnlock()

	for id, conn := range targets {
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Warn("broadcast to page client failed",
				slog.String("client_id", id), slog.Any("error", err))
			h.Detach(id)
		}
	}
}

// Focus asks one client to bring itself to the foreground.
func (h *Hub) Focus(id string) error {
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("bridge: no client %s", id)
	}
	return c.conn.WriteJSON(events.NewEvent(events.FocusWindow, nil))
}

// CanOpenWindow reports the platform window-opening capability.
func (h *Hub) CanOpenWindow() bool {
	return h.canOpenWindow
}

// OpenWindow asks the platform to open url in a new window.
func (h *Hub) OpenWindow(url string) error {
	if !h.canOpenWindow {
		return fmt.Errorf("bridge: open window capability missing")
	}
	payload, _ := json.Marshal(map[string]string{"url": url})
	h.Broadcast(events.Event{Type: events.OpenWindow, Payload: payload})
	return nil
}

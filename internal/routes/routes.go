package routes

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Pushwoosh/web-push-notifications-sub000/internal/bridge"
	"github.com/Pushwoosh/web-push-notifications-sub000/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Pages attach from the same host; the worker is not an internet-facing
	// service.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewRouter wires the worker's HTTP surface: health and metrics for
// monitoring, plus the /events websocket on which page contexts attach to
// receive broadcasts.
func NewRouter(hub *bridge.Hub, collector *metrics.Metrics, logger *slog.Logger, started time.Time) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"message": "push worker healthy",
			"meta": map[string]interface{}{
				"uptime_seconds": int(time.Since(started).Seconds()),
				"page_clients":   len(hub.Clients()),
				"timestamp":      time.Now().UTC(),
			},
		})
	})
	mux.Handle("/metrics", collector.Handler())
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", slog.Any("error", err))
			return
		}
		focused, _ := strconv.ParseBool(r.URL.Query().Get("focused"))
		hub.Attach(conn, r.URL.Query().Get("url"), focused)
	})
	return mux
}

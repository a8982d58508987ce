package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/opbuddy121/fibre-joint-app/internal/services"
)

// refreshEvery re-sends the current view so active durations keep ticking
// on screen between store pushes.
const refreshEvery = 30 * time.Second

type WSHandler struct {
	registry *services.Registry
	now      func() time.Time
	upgrader websocket.Upgrader
}

func NewWSHandler(registry *services.Registry, now func() time.Time, allowedOrigins []string) *WSHandler {
	if now == nil {
		now = time.Now
	}
	allow := map[string]struct{}{}
	for _, o := range allowedOrigins {
		allow[o] = struct{}{}
	}
	return &WSHandler{
		registry: registry,
		now:      now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allow) == 0 {
					return true
				}
				_, ok := allow[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

type wsServerMsg struct {
	Type string       `json:"type"`
	View ViewResponse `json:"view"`
}

type wsConn struct {
	c  *websocket.Conn
	mu sync.Mutex
}

func (w *wsConn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

// SessionsWS streams the caller's view: once on connect, again on every
// store snapshot, and periodically so durations stay current.
func (h *WSHandler) SessionsWS(c *gin.Context) {
	id, ok := requireIdentity(c)
	if !ok {
		return
	}

	engine, err := h.registry.Acquire(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrade already wrote response in most cases
		return
	}
	defer conn.Close()

	wc := &wsConn{c: conn}
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// keep only the newest view; a slow client skips intermediate ones
	updates := make(chan services.View, 1)
	stop := engine.OnChange(func(v services.View) {
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- v:
		default:
		}
	})
	defer stop()

	// reader: only drains control frames and notices the close
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_ = conn.SetReadDeadline(time.Now().Add(2 * refreshEvery))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * refreshEvery))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(2 * refreshEvery))
		}
	}()

	ticker := time.NewTicker(refreshEvery)
	defer ticker.Stop()

	var last services.View
	for {
		select {
		case <-readDone:
			return
		case <-ctx.Done():
			return
		case <-engine.Done():
			// engine released or its feed was lost; the client reconnects
			wc.mu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session feed closed"),
				time.Now().Add(5*time.Second))
			wc.mu.Unlock()
			return
		case v := <-updates:
			last = v
			if err := wc.writeJSON(wsServerMsg{Type: "snapshot", View: renderView(v, h.now().UTC())}); err != nil {
				return
			}
		case <-ticker.C:
			if err := wc.writeJSON(wsServerMsg{Type: "tick", View: renderView(last, h.now().UTC())}); err != nil {
				return
			}
			wc.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			wc.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/runoff/engine"
	"github.com/danielhkuo/runoff/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Live message types
const (
	MessageInitial = "initial"
	MessageDiff    = "diff"
)

// LiveMessage is one websocket frame. The first frame is always initial.
type LiveMessage struct {
	Type    string              `json:"type"`
	Initial *engine.LiveInitial `json:"initial,omitempty"`
	Diff    *models.Diff        `json:"diff,omitempty"`
}

type LiveHandler struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader
}

func NewLiveHandler(e *engine.Engine) *LiveHandler {
	return &LiveHandler{
		engine: e,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// viewers are anonymous and read-only
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Stream handles GET /polls/{id}/live
// Sealed open polls are refused with 403 before the upgrade.
func (h *LiveHandler) Stream(w http.ResponseWriter, r *http.Request) {
	pollID, err := h.engine.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	initial, sub, err := h.engine.Subscribe(r.Context(), pollID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		slog.Warn("websocket upgrade failed", "poll_id", pollID, "error", err)
		return
	}
	defer conn.Close()

	// the read side only handles control frames and notices disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeJSON(conn, LiveMessage{Type: MessageInitial, Initial: &initial}); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case d, ok := <-sub.C:
			if !ok {
				// dropped as too slow, or the server is shutting down
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "resubscribe"))
				return
			}
			if err := writeJSON(conn, LiveMessage{Type: MessageDiff, Diff: &d}); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, msg LiveMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

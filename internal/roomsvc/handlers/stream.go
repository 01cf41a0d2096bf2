package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avvvet/allocation-rooms/internal/comm"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/broker"
	"github.com/avvvet/allocation-rooms/internal/roomsvc/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

func snapshotEvent(detail models.RoomDetail) (comm.Event, error) {
	return comm.NewEvent(comm.EventSnapshot, detail.Code, comm.SnapshotPayload{Room: detail})
}

// StreamEvents serves a room as server-sent events: one snapshot, then every
// later event, with comment lines as keep-alive.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.CreateResponse(w, Response{Message: "streaming unsupported", Code: http.StatusInternalServerError, Error: "internal"})
		return
	}

	sub, detail, err := h.svc.Subscribe(r.Context(), roomCode(r))
	if err != nil {
		h.Error(w, err)
		return
	}
	defer sub.Close()

	snap, err := snapshotEvent(detail)
	if err != nil {
		log.Errorf("encode snapshot for room %s: %v", detail.Code, err)
		h.CreateResponse(w, Response{Message: "snapshot unavailable", Code: http.StatusInternalServerError, Error: "internal"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, snap); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.opts.SSEKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				log.WithField("room", sub.RoomCode()).Debug("event stream ended by broker")
				return
			}
			if err := writeSSE(w, evt); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt comm.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if evt.Seq > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", evt.Seq); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// HandleWebSocket streams the same events as StreamEvents over a websocket.
// Client frames are only read to detect disconnects and answer pings.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sub, detail, err := h.svc.Subscribe(r.Context(), roomCode(r))
	if err != nil {
		h.Error(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		log.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	socketId := uuid.New().String()
	log.WithFields(log.Fields{"room": detail.Code, "socket": socketId}).Info("websocket viewer connected")

	go h.handleConnection(conn, sub, detail, socketId)
}

func (h *Handler) handleConnection(conn *websocket.Conn, sub *broker.Subscription, detail models.RoomDetail, socketId string) {
	done := make(chan struct{})

	// Ensure cleanup happens when connection closes
	defer func() {
		sub.Close()
		conn.Close()
		log.Infof("Closing WebSocket connection: %s", socketId)
	}()

	go readLoop(conn, socketId, done)

	snap, err := snapshotEvent(detail)
	if err != nil {
		log.Errorf("encode snapshot for room %s: %v", detail.Code, err)
		return
	}
	if err := writeFrame(conn, snap); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case evt, ok := <-sub.Events():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream ended"))
				return
			}
			if err := writeFrame(conn, evt); err != nil {
				log.Debugf("write to socket %s failed: %v", socketId, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, evt comm.Event) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(evt)
}

func readLoop(conn *websocket.Conn, socketId string, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			// Check if it's a normal close or unexpected error
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("WebSocket unexpected close error for socket %s: %v", socketId, err)
			} else {
				log.Debugf("WebSocket connection closed for socket: %s", socketId)
			}
			return
		}
	}
}

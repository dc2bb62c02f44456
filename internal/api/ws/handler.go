package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wpperf/dashkeeper/internal/engine/errlog"
	"github.com/wpperf/dashkeeper/internal/infrastructure/logging"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	// clientBuffer bounds per-client backlog; events beyond it are lost.
	clientBuffer = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	events chan errlog.Entry
}

// Handler upgrades status API connections into event streams.
type Handler struct {
	hub    *Hub
	log    *errlog.Log
	logger *logging.Logger
}

// NewHandler creates a WebSocket handler for the event log.
func NewHandler(hub *Hub, log *errlog.Log, logger *logging.Logger) *Handler {
	return &Handler{hub: hub, log: log, logger: logger.Named("ws")}
}

// HandleConnection upgrades the request, replays the retained event log,
// then streams new events until the client disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	cl := &client{events: make(chan errlog.Entry, clientBuffer)}
	h.hub.register(cl)
	defer h.hub.unregister(cl)

	for _, e := range h.log.Entries() {
		if err := h.write(conn, e); err != nil {
			return
		}
	}

	// Drain reads so close and pong frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case e := <-cl.events:
			if err := h.write(conn, e); err != nil {
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

func (h *Handler) write(conn *websocket.Conn, e errlog.Entry) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}

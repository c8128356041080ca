package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // max time to write one frame
	pongWait       = 60 * time.Second    // no pong within this = dead peer
	pingPeriod     = (pongWait * 9) / 10 // ping before pongWait expires
	streamBuffer   = 64
	maxInboundSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CI tooling connects from anywhere the admin port is reachable
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Stream upgrades to a WebSocket and pushes every suite recorded from now
// on as a JSON text frame until the client disconnects or the collector
// closes.
func (s *Server) Stream(c *gin.Context) {
	// subscribed before the handshake completes so no suite is missed
	suites, cancel := s.reports.Subscribe(streamBuffer)
	defer cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("stream_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()
	s.logger.Info("stream_client_connected", "remote_addr", conn.RemoteAddr().String())

	// read pump: only control frames are expected, it exits on close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(maxInboundSize)
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

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case suite, ok := <-suites:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "collector closed"))
				return
			}
			if err := conn.WriteJSON(suite); err != nil {
				s.logger.Debug("stream_write_failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			s.logger.Info("stream_client_disconnected")
			return
		}
	}
}

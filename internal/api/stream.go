package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	streamWriteWait   = 5 * time.Second
	streamMinInterval = 50 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origins are policed by the CORS and token middleware in front.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream pushes the server snapshot as JSON text frames every
// stream interval until the client goes away.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("stream upgrade failed")
		return
	}
	defer conn.Close()

	interval := time.Duration(s.cfg.GetTimers().StreamIntervalMs) * time.Millisecond
	if interval < streamMinInterval {
		interval = streamMinInterval
	}

	// The reader only notices the close frame; clients send nothing else.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debug().Str("client_ip", c.ClientIP()).Dur("interval", interval).Msg("stream opened")
	defer log.Debug().Str("client_ip", c.ClientIP()).Msg("stream closed")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(s.deps.Board.Snapshot()); err != nil {
			return
		}

		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

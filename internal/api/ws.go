package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/freebox-home/freebox-bridge/internal/models"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API already authenticates before the upgrade; browsers on other
	// origins still need CheckOrigin to pass.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket streams snapshots to the client: the latest snapshot of
// every category on connect, then every newly published one. The bus
// subscription is per-connection, so a slow client only loses its own
// snapshots.
func (s *RESTServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	ch, cancel := s.bus.SubscribeAll()

	// Reader goroutine: only there to process control frames and notice
	// the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		cancel()
		conn.Close()
	}()

	writeSnap := func(snap models.Snapshot) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(snap); err != nil {
			log.Debug().Err(err).Msg("Websocket write failed")
			return false
		}
		return true
	}

	for _, cat := range models.AllCategories {
		if snap, ok := s.bus.Latest(cat); ok {
			if !writeSnap(snap) {
				return
			}
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if !writeSnap(snap) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

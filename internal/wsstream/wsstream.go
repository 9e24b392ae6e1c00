// Package wsstream pushes live metrics.Snapshot-derived report.Summary
// ticks to every connected websocket client, adapted from the
// teacher's ARI event-stream server (cmd/ari-server/simple_rtt_server.go):
// the same websocket.Upgrader + sync.Map client registry + periodic
// broadcast-loop shape, broadcasting run metrics instead of ARI events.
package wsstream

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ronifue/netstats/internal/clock"
	"github.com/Ronifue/netstats/internal/config"
	"github.com/Ronifue/netstats/internal/metrics"
	"github.com/Ronifue/netstats/internal/report"
)

// Server upgrades HTTP connections to websockets and broadcasts a
// report.Summary tick to every connected client at a fixed interval.
type Server struct {
	upgrader websocket.Upgrader
	clients  sync.Map // clientID string -> *websocket.Conn

	runID string
	start *clock.Clock
	cfg   *config.TestConfig
	m     *metrics.Aggregator
}

// New builds a Server that will broadcast ticks for one run, identified
// by runID, drawing its data from m.
func New(runID string, c *clock.Clock, cfg *config.TestConfig, m *metrics.Aggregator) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		runID: runID,
		start: c,
		cfg:   cfg,
		m:     m,
	}
}

// Handler upgrades the request to a websocket and registers the
// resulting connection for broadcast; it returns once the client
// disconnects.
func (s *Server) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsstream: upgrade failed: %v", err)
		return
	}

	clientID := r.RemoteAddr + "-" + time.Now().Format("150405.000000")
	s.clients.Store(clientID, conn)
	log.Printf("wsstream[%s]: client connected: %s", s.runID, clientID)

	defer func() {
		s.clients.Delete(clientID)
		conn.Close()
		log.Printf("wsstream[%s]: client disconnected: %s", s.runID, clientID)
	}()

	// Clients are not expected to send anything; block on read solely
	// to detect disconnection (close frame or I/O error).
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Run broadcasts a tick every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastTick()
		}
	}
}

func (s *Server) broadcastTick() {
	snap := s.m.Snapshot()
	summary := report.BuildSummary(s.runID, *s.cfg, snap, s.start.Start(), time.Now())

	payload, err := json.Marshal(summary)
	if err != nil {
		log.Printf("wsstream[%s]: failed to marshal tick: %v", s.runID, err)
		return
	}

	s.clients.Range(func(key, value interface{}) bool {
		conn := value.(*websocket.Conn)
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("wsstream[%s]: failed to write to client %v: %v", s.runID, key, err)
			s.clients.Delete(key)
			conn.Close()
		}
		return true
	})
}

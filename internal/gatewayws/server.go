// Package gatewayws exposes the push feed to an external UI process over
// WebSocket. Each connection gets the run-update stream plus, when requested
// with ?run=<id>, that run's four event channels, as JSON text frames.
package gatewayws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"agentdeck/internal/events"
	"agentdeck/internal/panellog"
)

const (
	maxMessageBytes = 1 << 20
	pingInterval    = 15 * time.Second
	writeTimeout    = 5 * time.Second
)

// Frame is one delivery to the UI.
type Frame struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

type Server struct {
	bus *events.Bus
	log *panellog.Logger
}

func NewServer(bus *events.Bus, log *panellog.Logger) *Server {
	return &Server{bus: bus, log: log}
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.bus == nil {
		http.Error(w, "gateway not configured", http.StatusInternalServerError)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	runID := strings.TrimSpace(r.URL.Query().Get("run"))
	go s.serveConn(conn, runID, strings.TrimSpace(r.RemoteAddr))
}

func (s *Server) serveConn(conn *websocket.Conn, runID string, remote string) {
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	subs := []*events.Subscription{s.bus.Subscribe(events.RunUpdateChannel)}
	if runID != "" {
		subs = append(subs,
			s.bus.Subscribe(events.OutputChannel(runID)),
			s.bus.Subscribe(events.ErrorChannel(runID)),
			s.bus.Subscribe(events.CompleteChannel(runID)),
			s.bus.Subscribe(events.CancelledChannel(runID)),
		)
	}
	defer func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}()

	s.log.Logf(panellog.KindInfo, "ws: connected remote=%s run=%s", remote, runID)

	// The read side only notices disconnects; the client never sends data.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	merged := make(chan events.Event, 64)
	for _, sub := range subs {
		go func(sub *events.Subscription) {
			for evt := range sub.C {
				select {
				case merged <- evt:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				s.log.Logf(panellog.KindDebug, "ws: ping failed remote=%s: %v", remote, err)
				return
			}
		case evt := <-merged:
			if err := s.writeFrame(ctx, conn, evt); err != nil {
				s.log.Logf(panellog.KindDebug, "ws: write failed remote=%s: %v", remote, err)
				return
			}
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, evt events.Event) error {
	data, err := json.Marshal(Frame{Channel: evt.Channel, Data: evt.Data})
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

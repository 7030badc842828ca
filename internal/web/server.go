// Package web provides the HTTP surface of the gate timer: the status page,
// JSON status, race controls, Prometheus metrics and a live WebSocket feed.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/gate-timer/internal/logic"
	"github.com/sweeney/gate-timer/internal/status"
	"github.com/sweeney/gate-timer/internal/timing"
)

// DefaultPushInterval is how often the live feed pushes a status snapshot.
const DefaultPushInterval = 250 * time.Millisecond

// Controller accepts race and detector commands.
type Controller interface {
	StartRace(ctx context.Context) error
	StopRace(ctx context.Context) error
	ClearLaps(ctx context.Context) error
	SetThresholds(ctx context.Context, enter, exit *int) (logic.Thresholds, error)
	ConfigureAnnouncer(ctx context.Context, s timing.AnnouncerSettings) error
	TestAudio(ctx context.Context) error
	SetDetection(ctx context.Context, active bool) error
	SaveDeviceConfig(ctx context.Context) error
}

// Server serves the status page and controls over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	control    Controller
	log        *slog.Logger
	push       time.Duration
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	shut    bool
	closing chan struct{}
	feeds   sync.WaitGroup
}

// New creates a Server that reads state from the given tracker and sends
// commands to control.
func New(addr string, tracker *status.Tracker, control Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		tracker: tracker,
		control: control,
		log:     logger,
		push:    DefaultPushInterval,
		closing: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleFeed)

	mux.HandleFunc("POST /api/race/start", s.handleStartRace)
	mux.HandleFunc("POST /api/race/stop", s.handleStopRace)
	mux.HandleFunc("POST /api/laps/clear", s.handleClearLaps)
	mux.HandleFunc("POST /api/thresholds", s.handleThresholds)
	mux.HandleFunc("POST /api/announcer", s.handleAnnouncer)
	mux.HandleFunc("POST /api/announcer/test", s.handleTestAudio)
	mux.HandleFunc("POST /api/detection", s.handleDetection)
	mux.HandleFunc("POST /api/device/config/save", s.handleSaveDeviceConfig)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server, closing live feeds.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.shut {
		s.shut = true
		close(s.closing)
	}
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)
	s.feeds.Wait()
	return err
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warn("render status page", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// joinFeed registers a live feed unless the server is shutting down.
func (s *Server) joinFeed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shut {
		return false
	}
	s.feeds.Add(1)
	return true
}

// handleFeed upgrades to a WebSocket and pushes the status every push
// interval until the client goes away or the server shuts down.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if !s.joinFeed() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.feeds.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close and ping frames are handled.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.push)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, status.FormatJSON(s.tracker.Snapshot())); err != nil {
			s.log.Debug("websocket write failed", "error", err)
			return
		}

		select {
		case <-gone:
			return
		case <-s.closing:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		case <-ticker.C:
		}
	}
}

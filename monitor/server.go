package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otelhan/venice/errors"
	"github.com/otelhan/venice/metric"
)

// Deps holds the dependencies for the monitor server.
type Deps struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// BusURL optionally bridges the NATS telemetry bus into the feed.
	// Empty disables the bridge; snapshots can still be pushed with
	// Broadcast.
	BusURL string
	// Prefix is the telemetry subject prefix (default "venice").
	Prefix   string
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
}

// Server is the observation surface: /ws live feed, /metrics, /healthz.
type Server struct {
	addr     string
	busURL   string
	prefix   string
	logger   *slog.Logger
	registry *metric.MetricsRegistry

	hub      *hub
	upgrader websocket.Upgrader
	httpSrv  *http.Server
	busConn  *nats.Conn
	busSub   *nats.Subscription

	done chan struct{}

	mu      sync.Mutex
	started bool
}

// Envelope is one feed frame: the subject a snapshot arrived on and
// its JSON body.
type Envelope struct {
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
	At      time.Time       `json:"at"`
}

// NewServer validates deps and creates a monitor server.
func NewServer(deps Deps) (*Server, error) {
	if deps.Addr == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Monitor", "NewServer", "listen address")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Prefix == "" {
		deps.Prefix = "venice"
	}

	return &Server{
		addr:     deps.Addr,
		busURL:   deps.BusURL,
		prefix:   deps.Prefix,
		logger:   deps.Logger,
		registry: deps.Registry,
		hub:      newHub(deps.Logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed is read-only telemetry for gallery dashboards.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}, nil
}

// Initialize prepares the HTTP routes.
func (s *Server) Initialize() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(
			s.registry.PrometheusRegistry(),
			promhttp.HandlerOpts{EnableOpenMetrics: true},
		))
	}
	mux.HandleFunc("/", s.handleIndex)

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return nil
}

// Start runs the hub, the optional bus bridge, and the HTTP listener.
// It blocks until the listener exits.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Monitor", "Start", "run server")
	}
	if s.httpSrv == nil {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "Monitor", "Start", "Initialize not called")
	}
	s.started = true
	s.mu.Unlock()

	go s.hub.run(s.done)

	if s.busURL != "" {
		if err := s.attachBus(); err != nil {
			s.logger.Warn("telemetry bus bridge unavailable", "url", s.busURL, "error", err)
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("monitor server listening", "addr", s.addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.WrapFatal(err, "Monitor", "Start", "listen on "+s.addr)
	}

	return nil
}

// Stop shuts the server down, closing the feed and the bus bridge.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false

	close(s.done)

	if s.busSub != nil {
		_ = s.busSub.Unsubscribe()
		s.busSub = nil
	}
	if s.busConn != nil {
		s.busConn.Close()
		s.busConn = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Monitor", "Stop", "shutdown listener")
	}

	return nil
}

// Broadcast pushes a snapshot into the feed for in-process callers.
func (s *Server) Broadcast(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "Monitor", "Broadcast", "marshal snapshot")
	}
	s.feed(subject, data)
	return nil
}

func (s *Server) feed(subject string, data []byte) {
	frame, err := json.Marshal(Envelope{Subject: subject, Data: data, At: time.Now().UTC()})
	if err != nil {
		return
	}
	select {
	case s.hub.broadcast <- frame:
	default:
		s.logger.Warn("feed backlog full, frame dropped", "subject", subject)
	}
}

// attachBus subscribes to every telemetry subject under the prefix and
// forwards each message into the feed.
func (s *Server) attachBus() error {
	conn, err := nats.Connect(s.busURL,
		nats.MaxReconnects(-1),
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return errors.WrapTransient(err, "Monitor", "AttachBus", "connect")
	}

	sub, err := conn.Subscribe(s.prefix+".>", func(msg *nats.Msg) {
		s.feed(msg.Subject, msg.Data)
	})
	if err != nil {
		conn.Close()
		return errors.WrapTransient(err, "Monitor", "AttachBus", "subscribe")
	}

	s.mu.Lock()
	s.busConn = conn
	s.busSub = sub
	s.mu.Unlock()

	s.logger.Info("telemetry bus bridged into feed", "url", s.busURL, "subjects", s.prefix+".>")

	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, clientQueueSize), done: s.done}
	select {
	case s.hub.register <- c:
	case <-s.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.hub.clientCount(s.done),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, `<html>
<head><title>Venice Monitor</title></head>
<body>
<h1>Venice Monitor</h1>
<p><a href="/ws">Live feed (websocket)</a></p>
<p><a href="/metrics">Metrics</a></p>
<p><a href="/healthz">Health</a></p>
</body>
</html>`)
}

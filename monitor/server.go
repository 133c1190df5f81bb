package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-ebus/bus"
	"github.com/arloliu/go-ebus/internal/task"
	"github.com/arloliu/go-ebus/logger"
)

// ErrServerStarted is returned by Start on a running server.
var ErrServerStarted = errors.New("monitor: server already started")

// Source publishes bus events. *bus.Bus implements it.
type Source interface {
	Subscribe() (<-chan bus.Event, func())
}

// Server streams the events of a Source to websocket clients.
//
// A client selects the frame encoding with the format query parameter:
// "json" (default, text messages) or "cbor" (binary messages). Clients that
// cannot keep up lose frames.
type Server struct {
	cfg      *config
	logger   logger.Logger
	source   Source
	upgrader websocket.Upgrader
	taskMgr  *task.Manager
	clients  *xsync.MapOf[*client, struct{}]

	mu          sync.Mutex
	running     bool
	unsubscribe func()

	dropCount atomic.Uint64
}

type client struct {
	conn   *websocket.Conn
	format Format
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *client) messageType() int {
	if c.format == FormatCBOR {
		return websocket.BinaryMessage
	}

	return websocket.TextMessage
}

// NewServer creates a monitor server for source.
func NewServer(ctx context.Context, source Source, opts ...Option) (*Server, error) {
	if source == nil {
		return nil, errors.New("monitor: source is nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return &Server{
		cfg:    cfg,
		logger: cfg.logger,
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		taskMgr: task.NewManager(ctx, cfg.logger),
		clients: xsync.NewMapOf[*client, struct{}](),
	}, nil
}

// Start subscribes to the source and starts streaming.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrServerStarted
	}

	events, unsubscribe := s.source.Subscribe()

	if err := s.taskMgr.Start("monitorFanout", func() bool { return s.fanout(events) }); err != nil {
		unsubscribe()
		return err
	}
	if err := s.taskMgr.StartInterval("monitorPing", s.ping, s.cfg.pingInterval); err != nil {
		unsubscribe()
		s.taskMgr.Stop()
		s.taskMgr.Wait()

		return err
	}

	s.unsubscribe = unsubscribe
	s.running = true

	return nil
}

// Close disconnects all clients and stops streaming.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	s.taskMgr.Stop()
	s.unsubscribe()
	s.clients.Range(func(c *client, _ struct{}) bool {
		s.drop(c)
		return true
	})
	s.taskMgr.Wait()

	return nil
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int { return s.clients.Size() }

// DropCount returns the number of frames dropped for slow clients.
func (s *Server) DropCount() uint64 { return s.dropCount.Load() }

// Handler returns an http.Handler serving the websocket endpoint at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)

	return mux
}

// ListenAndServe serves Handler on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	s.logger.Info("monitor: listening", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// ServeHTTP upgrades the request to a websocket connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	format, err := ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.isRunning() {
		http.Error(w, "monitor: server not started", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("monitor: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn:   conn,
		format: format,
		send:   make(chan []byte, s.cfg.clientBuffer),
		done:   make(chan struct{}),
	}
	s.clients.Store(c, struct{}{})

	if err := s.taskMgr.Start("monitorWriter", func() bool { return s.write(c) }); err != nil {
		s.drop(c)
		return
	}
	if err := s.taskMgr.Start("monitorReader", func() bool { return s.read(c) }); err != nil {
		s.drop(c)
		return
	}

	s.logger.Info("monitor: client connected",
		"remote", r.RemoteAddr,
		"format", format.String(),
		"clients", s.clients.Size(),
	)
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

func (s *Server) fanout(events <-chan bus.Event) bool {
	select {
	case <-s.taskMgr.Context().Done():
		return false
	case ev, ok := <-events:
		if !ok {
			return false
		}
		s.broadcast(NewFrame(ev))

		return true
	}
}

func (s *Server) broadcast(f Frame) {
	var encoded [2][]byte

	s.clients.Range(func(c *client, _ struct{}) bool {
		data := encoded[c.format]
		if data == nil {
			var err error
			if data, err = f.Encode(c.format); err != nil {
				s.logger.Error("monitor: failed to encode frame", "format", c.format.String(), "error", err)
				return true
			}
			encoded[c.format] = data
		}

		select {
		case c.send <- data:
		default:
			s.dropCount.Add(1)
		}

		return true
	})
}

func (s *Server) write(c *client) bool {
	select {
	case <-c.done:
		return false
	case <-s.taskMgr.Context().Done():
		return false
	case data := <-c.send:
		_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.writeTimeout))
		if err := c.conn.WriteMessage(c.messageType(), data); err != nil {
			s.logger.Debug("monitor: write failed", "remote", c.conn.RemoteAddr().String(), "error", err)
			s.drop(c)

			return false
		}

		return true
	}
}

// read discards client messages; it detects the closed connection.
func (s *Server) read(c *client) bool {
	if _, _, err := c.conn.ReadMessage(); err != nil {
		s.drop(c)
		return false
	}

	return true
}

func (s *Server) ping() bool {
	deadline := time.Now().Add(s.cfg.writeTimeout)

	s.clients.Range(func(c *client, _ struct{}) bool {
		if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			s.drop(c)
		}

		return true
	})

	return true
}

func (s *Server) drop(c *client) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		s.clients.Delete(c)
		s.logger.Info("monitor: client disconnected",
			"remote", c.conn.RemoteAddr().String(),
			"clients", s.clients.Size(),
		)
	})
}

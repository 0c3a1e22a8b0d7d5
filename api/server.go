package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"CoDetServer/engine"
	"CoDetServer/eventlog"
	iface "CoDetServer/interface"
	"CoDetServer/render"
	"CoDetServer/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Controller drives detection sessions. *session.Manager implements it.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Status() session.Status
	Overlays() []iface.Overlay
}

// Feed is the display log. *eventlog.Log implements it.
type Feed interface {
	Events() []iface.Event
	Subscribe(buffer int) (<-chan eventlog.Entry, func())
	Clear()
}

type Snapshot interface {
	JPEG() ([]byte, error)
}

// History serves older events than the display log keeps. *journal.Journal implements it.
type History interface {
	Recent(ctx context.Context, limit int) ([]iface.Event, error)
}

const (
	wsBuffer       = 64
	wsWriteTimeout = 5 * time.Second
	wsPingPeriod   = 30 * time.Second
	defaultLimit   = 100
)

type Server struct {
	ctrl     Controller
	feed     Feed
	snapshot Snapshot
	history  History
	logger   *zap.Logger
	upgrader websocket.Upgrader

	quit     chan struct{}
	quitOnce sync.Once
}

type Option func(*Server)

func WithSnapshot(s Snapshot) Option {
	return func(srv *Server) { srv.snapshot = s }
}

func WithHistory(h History) Option {
	return func(srv *Server) { srv.history = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(srv *Server) { srv.logger = l }
}

func New(ctrl Controller, feed Feed, opts ...Option) *Server {
	s := &Server{
		ctrl: ctrl,
		feed: feed,
		quit: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/session/start", s.start)
	r.POST("/api/session/stop", s.stop)
	r.GET("/api/session/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.ctrl.Status()})
	})
	r.GET("/api/events", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.feed.Events()})
	})
	r.DELETE("/api/events", func(c *gin.Context) {
		s.feed.Clear()
		c.JSON(http.StatusOK, gin.H{"data": "Event log cleared"})
	})
	r.GET("/api/events/history", s.eventHistory)
	r.GET("/api/overlays", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": s.ctrl.Overlays()})
	})
	r.GET("/api/snapshot.jpg", s.snapshotJPEG)
	r.GET("/ws/events", s.watchEvents)
	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		begin := time.Now()
		c.Next()
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(begin)))
	}
}

func (s *Server) start(c *gin.Context) {
	if err := s.ctrl.Start(c.Request.Context()); err != nil {
		s.logger.Warn("session start failed", zap.Error(err))
		c.JSON(HTTPStatus(err), gin.H{"error": engine.Message(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.ctrl.Status()})
}

func (s *Server) stop(c *gin.Context) {
	if err := s.ctrl.Stop(); err != nil {
		c.JSON(HTTPStatus(err), gin.H{"error": engine.Message(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.ctrl.Status()})
}

func (s *Server) eventHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event journal is not configured"})
		return
	}
	limit := defaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	events, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("journal query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events})
}

func (s *Server) snapshotJPEG(c *gin.Context) {
	if s.snapshot == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Snapshots are not available"})
		return
	}
	img, err := s.snapshot.JPEG()
	if errors.Is(err, render.ErrNoFrame) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No frame captured yet"})
		return
	}
	if err != nil {
		s.logger.Error("snapshot failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", img)
}

// watchEvents pushes the current log oldest first, then every appended entry, as JSON text frames.
func (s *Server) watchEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	entries, cancel := s.feed.Subscribe(wsBuffer)
	defer cancel()

	// The read side only exists to notice the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(v)
	}
	backlog := s.feed.Events()
	for i := len(backlog) - 1; i >= 0; i-- {
		if err := write(eventlog.Entry{Event: backlog[i]}); err != nil {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := write(entry); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

// HTTPStatus maps an engine error to a response code.
func HTTPStatus(err error) int {
	var (
		capErr   *iface.CaptureError
		modelErr *engine.ModelLoadError
		notReady *engine.NotReadyError
	)
	switch {
	case errors.As(err, &capErr):
		switch capErr.Kind {
		case iface.CaptureDenied:
			return http.StatusForbidden
		case iface.CaptureNotFound:
			return http.StatusNotFound
		case iface.CaptureUnsupported:
			return http.StatusNotImplemented
		default:
			return http.StatusServiceUnavailable
		}
	case errors.As(err, &notReady):
		return http.StatusConflict
	case errors.As(err, &modelErr):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

// Serve runs the router on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close ends every open websocket. Shutdown does not track hijacked connections.
func (s *Server) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, lis)
}

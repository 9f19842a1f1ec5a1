package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ozonassist/internal/api"
	"ozonassist/internal/attachments"
	"ozonassist/internal/config"
	"ozonassist/internal/events"
	"ozonassist/internal/logging"
	"ozonassist/internal/notifications"
	"ozonassist/internal/queue"
	"ozonassist/internal/store"
)

type apiServer struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	engine   *queue.Engine
	registry *attachments.Registry
	bus      *events.Bus
	notifier notifications.Service

	router   *gin.Engine
	server   *http.Server
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	listener net.Listener
	base     string

	closing   chan struct{}
	closeOnce sync.Once
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, errors.New("api server requires config and daemon")
	}
	if strings.TrimSpace(cfg.Server.Bind) == "" {
		return nil, errors.New("server.bind is required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("configure router: %w", err)
	}
	router.MaxMultipartMemory = d.deps.Registry.MaxBytes()

	origins := newOriginPolicy(cfg.Server.AllowedOrigins)
	srv := &apiServer{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "api-server"),
		store:    d.deps.Store,
		engine:   d.deps.Engine,
		registry: d.deps.Registry,
		bus:      d.deps.Bus,
		notifier: d.deps.Notifier,
		router:   router,
		base:     cfg.PublicBaseURL(),
		closing:  make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}

	router.Use(
		requestContext(),
		requestLogger(srv.logger, d.deps.Recorder),
		recovery(srv.logger),
		cors(origins),
	)
	srv.routes(d)

	srv.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(d *Daemon) {
	r := s.router
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "ozonassist server is running")
	})
	r.Static("/images", s.registry.Dir())

	agent := r.Group("/api")
	{
		agent.GET("/status", s.handleStatus)
		agent.GET("/task/failed", s.handleTaskFailed)
		agent.GET("/image/random", s.handleRandomImage)
		agent.GET("/complaint/unprocessed", s.handleUnprocessed)
		agent.POST("/complaint/:sku/status", s.handleOutcome)
		agent.POST("/complaint/:sku/image", s.handleLinkImage)
		agent.GET("/events", s.handleEvents)
		agent.GET("/events/ws", s.handleEventsWS)
	}

	admin := r.Group(adminPrefix, adminGuard(s.cfg.Server.APIToken, s.logger))
	{
		admin.GET("/stats", s.handleStats)
		admin.GET("/health", s.handleHealth)
		admin.GET("/complaints", s.handleListComplaints)
		admin.POST("/complaints", s.handleEnqueue)
		admin.POST("/complaints/reset", s.handleReset)
		admin.PATCH("/complaints/:id", s.handleSetStatus)
		admin.DELETE("/complaints/:id", s.handleRemoveComplaint)
		admin.GET("/images", s.handleListImages)
		admin.POST("/images", s.handleUploadImages)
		admin.POST("/images/import", s.handleImportImages)
		admin.DELETE("/images/:id", s.handleDeleteImage)
	}

	if reg := d.deps.Metrics; reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))
	}
	if s.cfg.Server.EnablePprof {
		pprof.Register(r)
	}
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.Bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	if strings.TrimSpace(s.cfg.Server.PublicHost) == "" {
		advertised := *s.cfg
		advertised.Server.Bind = listener.Addr().String()
		s.base = advertised.PublicBaseURL()
	}
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that server.bind is free"),
			)
		}
	}()

	go func() {
		<-ctx.Done()
		s.stop()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String("base_url", s.baseURL()),
	)
	return nil
}

func (s *apiServer) stop() {
	s.closeOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()
	if listener == nil {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logging.WarnWithContext(s.logger, "api server shutdown incomplete", "api_shutdown_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "in-flight requests were cut off"),
		)
	}
	_ = listener.Close()
}

func (s *apiServer) address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) port() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return 0
	}
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (s *apiServer) baseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base
}

func (s *apiServer) log(c *gin.Context) *slog.Logger {
	return logging.WithContext(c.Request.Context(), s.logger)
}

func (s *apiServer) ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, api.OK(data))
}

// fail maps err onto the envelope: expected errors are a 200 with
// success=false, anything else is logged and returned as a 500.
func (s *apiServer) fail(c *gin.Context, err error) {
	if store.IsExpected(err) {
		s.log(c).Info("request rejected",
			logging.String("path", c.Request.URL.Path),
			logging.String("reason", err.Error()),
		)
		c.JSON(http.StatusOK, api.Fail(err.Error()))
		return
	}
	logging.ErrorWithContext(s.log(c), "request failed", "request_failed",
		logging.String("path", c.Request.URL.Path),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check database access and disk space"),
	)
	c.JSON(http.StatusInternalServerError, api.Fail(err.Error()))
}

// reject answers an expected failure that has no error value.
func (s *apiServer) reject(c *gin.Context, message string) {
	c.JSON(http.StatusOK, api.Fail(message))
}

package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/xoogware/crawlspace/dashboard"
	"github.com/xoogware/crawlspace/internal/config"
	"github.com/xoogware/crawlspace/internal/db"
	"github.com/xoogware/crawlspace/internal/events"
	intnet "github.com/xoogware/crawlspace/internal/network"
	"github.com/xoogware/crawlspace/internal/session"
	"github.com/xoogware/crawlspace/internal/util"
	"github.com/xoogware/crawlspace/internal/world"
)

// StatusSource renders the server list document.
type StatusSource interface {
	Status() intnet.Status
}

// ConnectionCounter reports open game connections.
type ConnectionCounter interface {
	Connections() int64
}

// AuditReader reads the session audit log.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]db.SessionRecord, error)
	RecentFailures(ctx context.Context, limit int) ([]db.FailureRecord, error)
}

// ClusterCounter counts players across every instance sharing presence.
type ClusterCounter interface {
	ClusterOnline(ctx context.Context) (int64, error)
}

// Dependencies are the runtime components the API reads from. Audit and
// Cluster are optional.
type Dependencies struct {
	Sessions *session.Registry
	Status   StatusSource
	Conns    ConnectionCounter
	World    world.Stats
	Audit    AuditReader
	Cluster  ClusterCounter
	Started  time.Time
}

// Server is the admin and monitoring HTTP API.
type Server struct {
	cfg      *config.Config
	api      config.APIConfig
	eventBus *events.EventBus
	deps     Dependencies
	logger   zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, deps Dependencies) *Server {
	settings := cfg.Snapshot()
	if settings.Logging.Level == "debug" || settings.Logging.Level == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Started.IsZero() {
		deps.Started = time.Now()
	}

	s := &Server{
		cfg:      cfg,
		api:      settings.API,
		eventBus: eventBus,
		deps:     deps,
		logger:   util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.api.Address, s.api.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if s.api.TLSEnabled {
		created, err := util.EnsureTLSCert(s.api.TLSCertFile, s.api.TLSKeyFile, "localhost", "127.0.0.1", s.api.Address)
		if err != nil {
			return fmt.Errorf("failed to prepare API certificate: %w", err)
		}
		if created {
			s.logger.Warn().Str("cert", s.api.TLSCertFile).Msg("using a generated self-signed certificate")
		}
		cert, err := tls.LoadX509KeyPair(s.api.TLSCertFile, s.api.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := intnet.ListenConfig(0)
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	s.logger.Info().Str("addr", addr).Bool("tls", s.api.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.api.TLSEnabled {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(Recovery(s.logger))
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := s.api.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(s.api.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	// ---- Public endpoints (no auth required) ----
	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/status", s.handleStatus)
	}

	// ---- Protected endpoints ----
	protected := router.Group("/api")
	protected.Use(RequireToken(s.api.Token))

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/players", s.handleGetPlayers)
		monitor.GET("/players/:id", s.handleGetPlayer)
		monitor.GET("/sessions", s.handleGetSessions)
		monitor.GET("/failures", s.handleGetFailures)
		monitor.GET("/system", s.handleGetSystem)
		monitor.GET("/world", s.handleGetWorld)
		monitor.GET("/cluster", s.handleGetCluster)
		monitor.GET("/logs", s.handleGetLogEntries)
		monitor.GET("/events", s.handleEvents)
	}

	control := protected.Group("/control")
	{
		control.POST("/kick/:id", s.handleKick)
		control.POST("/kick_all", s.handleKickAll)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/config", s.handleGetConfig)
		configure.PATCH("/config", s.handlePatchConfig)
	}

	// ---- Dashboard (embedded static files) ----
	static := http.FileServer(http.FS(dashboard.FS()))
	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		static.ServeHTTP(c.Writer, c.Request)
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

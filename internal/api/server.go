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
	"github.com/rs/zerolog/log"

	"github.com/networkbrawler/brawler/internal/config"
	"github.com/networkbrawler/brawler/internal/db"
	"github.com/networkbrawler/brawler/internal/events"
	"github.com/networkbrawler/brawler/internal/match"
	intnet "github.com/networkbrawler/brawler/internal/network"
	"github.com/networkbrawler/brawler/internal/server"
)

// Controller steers the running game loop.
type Controller interface {
	ResetMatch(ctx context.Context) error
	Kick(ctx context.Context, slot int) error
	ApplySettings(ctx context.Context, settings match.Settings) error
}

// Results reads stored match history.
type Results interface {
	RecentMatches(limit int) ([]db.MatchRecord, error)
	PlayerStats(name string) (db.PlayerStats, error)
	TopPlayers(limit int) ([]db.PlayerStats, error)
}

// Peers reads the transport's per-peer accounting. It is safe to call from
// any goroutine.
type Peers interface {
	Get(id intnet.PeerID) (intnet.Connection, bool)
	GetAll() []intnet.Connection
}

// Dependencies are the runtime components the API reads and controls.
// Results, Lag and Peers may be nil.
type Dependencies struct {
	Board   *server.StatusBoard
	Control Controller
	Lag     *server.LagMonitor
	Results Results
	Peers   Peers
}

// Server is the operator REST API.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	deps     Dependencies

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server and builds its router.
func NewServer(cfg *config.Config, eventBus *events.EventBus, deps Dependencies) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		deps:     deps,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API on the configured port until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	sec := s.cfg.GetSecurity()
	addr := fmt.Sprintf(":%d", s.cfg.GetServer().APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if sec.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(sec.TLSCertFile, sec.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", sec.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if sec.TLSEnabled {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	sec := s.cfg.GetSecurity()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := sec.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // must stay false while AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(sec.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
	}

	protected := router.Group("/api")
	protected.Use(IPWhitelist(sec.IPWhitelist))
	protected.Use(RequireAdmin(s.cfg))

	monitor := protected.Group("/monitor")
	{
		monitor.GET("/status", s.handleStatus)
		monitor.GET("/match", s.handleMatch)
		monitor.GET("/players", s.handlePlayers)
		monitor.GET("/peers", s.handlePeers)
		monitor.GET("/leaderboard", s.handleLeaderboard)
		monitor.GET("/matches", s.handleRecentMatches)
		monitor.GET("/player_stats/:name", s.handlePlayerStats)
		monitor.GET("/top_players", s.handleTopPlayers)
		monitor.GET("/lag", s.handleLag)
		monitor.GET("/cpu", s.handleCPUUsage)
		monitor.GET("/memory", s.handleMemoryUsage)
		monitor.GET("/process", s.handleProcessUsage)
		monitor.GET("/stream", s.handleStream)
	}

	control := protected.Group("/control")
	{
		control.POST("/reset_match", s.handleResetMatch)
		control.POST("/kick/:slot", s.handleKick)
	}

	configure := protected.Group("/configure")
	{
		configure.GET("/config", s.handleGetConfig)
		configure.POST("/match", s.handleSetMatch)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Brawler API is running"})
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

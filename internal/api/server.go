package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/lanlink-project/lanlink/dashboard"
	"github.com/lanlink-project/lanlink/internal/config"
	"github.com/lanlink-project/lanlink/internal/db"
	"github.com/lanlink-project/lanlink/internal/events"
	"github.com/lanlink-project/lanlink/internal/health"
	"github.com/lanlink-project/lanlink/internal/lan"
	intnet "github.com/lanlink-project/lanlink/internal/network"
	"github.com/lanlink-project/lanlink/internal/stats"
	"github.com/lanlink-project/lanlink/internal/util"
)

// Server is the REST API server for the lanlink node.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	session  *lan.Session

	// Dependencies
	tracker *stats.Tracker
	stalls  *health.StallMonitor
	journal *db.Journal
	live    *LiveHub

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, session *lan.Session) *Server {
	// Set Gin mode based on log level
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		session:  session,
	}

	return s
}

// SetDependencies injects runtime dependencies (called after all components are initialized).
func (s *Server) SetDependencies(tracker *stats.Tracker, stalls *health.StallMonitor, journal *db.Journal) {
	s.tracker = tracker
	s.stalls = stalls
	s.journal = journal
}

// Start initializes and starts the API server.
func (s *Server) Start(ctx context.Context) error {
	// Build router
	s.router = s.buildRouter()

	// Create HTTP server
	addr := fmt.Sprintf(":%d", s.cfg.GetNodeData().APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// TLS configuration
	if s.cfg.GetApplicationData().Security.TLSEnabled {
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			},
		}
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	// The live hub pumps session views to websocket clients. Started
	// after the bind so a retried Start does not stack hubs.
	s.live = NewLiveHub(s.session)
	go s.live.Run(ctx)

	log.Info().Str("addr", addr).Msg("REST API server starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if s.cfg.GetApplicationData().Security.TLSEnabled {
		certFile := s.cfg.GetApplicationData().Security.TLSCertFile
		keyFile := s.cfg.GetApplicationData().Security.TLSKeyFile
		if !util.FileExists(certFile) || !util.FileExists(keyFile) {
			log.Info().Str("cert", certFile).Msg("TLS certificate missing, generating self-signed pair")
			if err := util.GenerateSelfSignedCert(certFile, keyFile); err != nil {
				return fmt.Errorf("failed to generate API TLS certificate: %w", err)
			}
		}
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return fmt.Errorf("failed to load API TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig.Certificates = []tls.Certificate{cert}
		tlsListener := tls.NewListener(ln, s.httpServer.TLSConfig)
		err = s.httpServer.Serve(tlsListener)
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server error: %w", err)
		}
		return nil
	}

	err = s.httpServer.Serve(ln)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	// CORS
	allowedOrigins := s.cfg.GetApplicationData().Security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	// Rate limiting
	rateLimiter := NewRateLimiter(s.cfg.GetApplicationData().Security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	// Auth middleware
	auth := NewAuthMiddleware(s.cfg)
	router.Use(auth.IPWhitelist())

	// ---- Public endpoints (no auth required) ----
	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/get_node_info", s.handleGetNodeInfo)
		public.GET("/get_version", s.handleGetVersion)
	}

	// ---- Protected endpoints ----
	protected := router.Group("/api")
	protected.Use(auth.RequireAuth())

	// Monitor endpoints: read-only session, stats, and journal views
	monitor := protected.Group("/monitor")
	{
		monitor.GET("/get_session_view", s.handleGetSessionView)
		monitor.GET("/get_peers", s.handleGetPeers)
		monitor.GET("/get_link_counters", s.handleGetLinkCounters)
		monitor.GET("/get_stats", s.handleGetStats)
		monitor.GET("/get_stats_history", s.handleGetStatsHistory)
		monitor.GET("/get_tally", s.handleGetTally)
		monitor.GET("/get_stall_data", s.handleGetStallData)
		monitor.GET("/get_cpu_usage", s.handleGetCPUUsage)
		monitor.GET("/get_memory_usage", s.handleGetMemoryUsage)
		monitor.GET("/get_feed", s.handleGetFeed)
		monitor.GET("/get_sightings", s.handleGetSightings)
		monitor.GET("/get_shares", s.handleGetShares)
		monitor.GET("/get_share_totals", s.handleGetShareTotals)
		monitor.GET("/get_alerts", s.handleGetAlerts)
		monitor.GET("/get_log_entries", s.handleGetLogEntries)
	}

	// Control endpoints: feed the session command queue
	control := protected.Group("/control")
	{
		control.POST("/share", s.handleShare)
		control.POST("/set_callsign", s.handleSetCallsign)
		control.POST("/set_team", s.handleSetTeam)
		control.POST("/set_perk", s.handleSetPerk)
		control.POST("/select_weapon", s.handleSelectWeapon)
		control.POST("/fire", s.handleFire)
		control.POST("/respawn", s.handleRespawn)
		control.POST("/set_checksum", s.handleSetChecksum)
		control.POST("/set_link_enabled", s.handleSetLinkEnabled)
		control.POST("/acknowledge_alert/:id", s.handleAcknowledgeAlert)
	}

	// Configure endpoints
	configure := protected.Group("/configure")
	{
		configure.GET("/get_config", s.handleGetConfig)
		configure.POST("/set_node_data", s.handleSetNodeData)
		configure.POST("/set_app_data", s.handleSetAppData)
	}

	// Live view stream
	protected.GET("/live", s.handleLive)

	// ---- Dashboard (SPA static files) ----
	// Prefer a dist/ built on disk next to the binary; fall back to the
	// files embedded at build time.
	dashboardDir := findDashboardDir()
	if dashboardDir != "" {
		log.Info().Str("path", dashboardDir).Msg("serving dashboard UI")

		router.Static("/assets", filepath.Join(dashboardDir, "assets"))

		// SPA fallback: any route that is NOT /api/* and NOT a static file
		// gets served index.html so client-side routing works.
		indexHTML := filepath.Join(dashboardDir, "index.html")
		router.NoRoute(func(c *gin.Context) {
			// Don't intercept API routes -- let them 404 normally
			if strings.HasPrefix(c.Request.URL.Path, "/api/") {
				c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
				return
			}
			c.File(indexHTML)
		})
	} else if distFS, err := fs.Sub(dashboard.DistFS, "dist"); err == nil {
		log.Info().Msg("serving embedded dashboard UI")

		fileServer := http.FileServer(http.FS(distFS))
		router.NoRoute(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/api/") {
				c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
				return
			}
			if _, err := fs.Stat(distFS, strings.TrimPrefix(c.Request.URL.Path, "/")); err != nil {
				c.Request.URL.Path = "/"
			}
			fileServer.ServeHTTP(c.Writer, c.Request)
		})
	} else {
		router.NoRoute(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/api/") {
				c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"message": "lanlink API is running. Dashboard not built yet; run 'npm run build' in the dashboard/ directory.",
			})
		})
	}

	return router
}

// findDashboardDir locates the built dashboard directory.
// It checks relative to the executable and the working directory.
func findDashboardDir() string {
	candidates := []string{}

	// Relative to the working directory
	candidates = append(candidates, filepath.Join("dashboard", "dist"))

	// Relative to the executable
	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		candidates = append(candidates, filepath.Join(exeDir, "dashboard", "dist"))
	}

	for _, dir := range candidates {
		if util.FileExists(filepath.Join(dir, "index.html")) {
			absDir, _ := filepath.Abs(dir)
			return absDir
		}
	}
	return ""
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

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/OldStager01/fleet-autoscaler/api/docs"
	"github.com/OldStager01/fleet-autoscaler/api/handlers"
	"github.com/OldStager01/fleet-autoscaler/api/middleware"
	"github.com/OldStager01/fleet-autoscaler/api/websocket"
	"github.com/OldStager01/fleet-autoscaler/internal/auth"
	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/pkg/config"
	"github.com/OldStager01/fleet-autoscaler/pkg/database"
	"github.com/OldStager01/fleet-autoscaler/pkg/database/queries"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

const maxRequestBody = 1 << 20

// Fleet is everything the API drives: group and server commands plus the
// log streams of individual servers.
type Fleet interface {
	handlers.FleetManager
	websocket.LogStreamer
}

// Dependencies are the running components the server is wired to.
type Dependencies struct {
	Fleet        Fleet
	ProviderName string
	// DB is nil when persistence is disabled.
	DB      *database.DB
	Events  <-chan *models.Event
	History handlers.EventHistory
	Reload  handlers.ReloadFunc
}

type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.APIConfig
	opTimeout   time.Duration
	deps        Dependencies
	authService *auth.Service
	users       handlers.UserStore
	wsHub       *websocket.Hub
	wsBridge    *websocket.EventBridge
}

func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	switch cfg.App.Mode {
	case "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	authService := auth.NewService(cfg.API.JWTSecret, cfg.API.JWTDuration).WithIssuer(cfg.API.JWTIssuer)
	wsHub := websocket.NewHub(&cfg.WebSocket)

	s := &Server{
		router:      gin.New(),
		config:      cfg.API,
		opTimeout:   cfg.Scaling.OperationTimeout,
		deps:        deps,
		authService: authService,
		wsHub:       wsHub,
	}

	switch {
	case deps.DB != nil:
		s.users = queries.NewUserRepository(deps.DB.DB)
	case cfg.API.AdminPassword != "":
		store, err := handlers.NewStaticUserStore(cfg.API.AdminUser, cfg.API.AdminPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to create admin user: %w", err)
		}
		s.users = store
	default:
		logger.Warn("No database and no admin password configured, login is disabled")
	}

	s.setupMiddleware()
	s.setupRoutes()

	go wsHub.Run()

	if deps.Events != nil {
		s.wsBridge = websocket.NewEventBridge(wsHub, deps.Events, deps.Fleet.Status)
		s.wsBridge.Start()
	}

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CORS(middleware.CORSFromConfig(s.config.CORS)))
	s.router.Use(middleware.TraceID())
	s.router.Use(middleware.RequestLogger())
	s.router.Use(middleware.SecurityHeaders())
	s.router.Use(middleware.RequestSizeLimit(maxRequestBody))

	rateLimiter := middleware.NewRateLimiter(s.config.RateLimit, time.Minute)
	s.router.Use(middleware.RateLimit(rateLimiter))
}

func (s *Server) setupRoutes() {
	var db handlers.Pinger
	var eventsRepo handlers.ScalingEventReader
	if s.deps.DB != nil {
		db = s.deps.DB
		eventsRepo = queries.NewScalingEventRepository(s.deps.DB.DB)
	}

	healthHandler := handlers.NewHealthHandler(db, s.deps.Fleet, s.deps.ProviderName)
	authHandler := handlers.NewAuthHandler(s.users, s.authService, s.config.CookieName, s.config.CookieSecure)
	groupHandler := handlers.NewGroupHandler(s.deps.Fleet, s.opTimeout)
	serverHandler := handlers.NewServerHandler(s.deps.Fleet, s.opTimeout, &s.config)
	eventsHandler := handlers.NewEventsHandler(s.deps.Fleet, s.deps.History, eventsRepo, &s.config)
	adminHandler := handlers.NewAdminHandler(s.deps.Reload, s.opTimeout)

	ops := middleware.NewOperationLimiter()
	scaleLimit := ops.Limit("scaling", s.config.OperationRateLimit, time.Minute)
	controlLimit := ops.Limit("server control", s.config.OperationRateLimit, time.Minute)

	// Public routes
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/health/ready", healthHandler.Ready)
	s.router.GET("/health/live", healthHandler.Live)
	s.router.POST("/auth/login", middleware.AuthRateLimiter(), authHandler.Login)
	s.router.POST("/auth/logout", authHandler.Logout)
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	protected := s.router.Group("/")
	protected.Use(middleware.JWTAuth(s.authService, s.config.CookieName))
	{
		// WebSockets
		protected.GET("/ws", websocket.ServeWebSocket(s.wsHub))
		protected.GET("/ws/servers/:id/logs", websocket.ServeLogStream(s.deps.Fleet, s.wsHub.Settings()))

		// Groups
		protected.GET("/groups", groupHandler.List)
		protected.GET("/groups/:name", groupHandler.Get)
		protected.GET("/groups/:name/status", groupHandler.GetStatus)
		protected.GET("/groups/:name/servers", groupHandler.Servers)
		protected.POST("/groups/:name/upscale", scaleLimit, groupHandler.Upscale)
		protected.POST("/groups/:name/scale-up", scaleLimit, groupHandler.ScaleUp)
		protected.POST("/groups/:name/scale-down", scaleLimit, groupHandler.ScaleDown)
		protected.POST("/groups/:name/pause", groupHandler.Pause)
		protected.POST("/groups/:name/resume", groupHandler.Resume)
		protected.POST("/groups/:name/cron/:job", scaleLimit, groupHandler.RunCronJob)
		protected.PUT("/groups/:name/scaling", groupHandler.UpdateScaling)

		// Servers
		protected.GET("/servers", serverHandler.List)
		protected.GET("/servers/:id", serverHandler.Get)
		protected.POST("/servers/:id/start", controlLimit, serverHandler.Start)
		protected.POST("/servers/:id/stop", controlLimit, serverHandler.Stop)
		protected.POST("/servers/:id/restart", controlLimit, serverHandler.Restart)
		protected.DELETE("/servers/:id", controlLimit, serverHandler.Delete)
		protected.GET("/servers/:id/logs", serverHandler.Logs)
		protected.GET("/servers/:id/stats", serverHandler.Stats)
		protected.POST("/servers/:id/heartbeat", serverHandler.Heartbeat)

		// Scaling events
		protected.GET("/groups/:name/events", eventsHandler.GetScalingEvents)
		protected.GET("/groups/:name/events/stats", eventsHandler.GetScalingStats)
		protected.GET("/events/recent", eventsHandler.GetRecentEvents)

		// Admin
		protected.POST("/admin/reload", ops.Limit("reload", 2, time.Minute), adminHandler.Reload)
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)

	idleTimeout := s.config.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}

	logger.Infof("API server listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.wsBridge != nil {
		s.wsBridge.Stop()
	}
	s.wsHub.Stop()

	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

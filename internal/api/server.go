package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/shiv6146/callbridge/internal/config"
	"github.com/shiv6146/callbridge/internal/metrics"
)

// Server represents the HTTP server
type Server struct {
	config     *config.Config
	handler    *Handler
	metrics    *metrics.Metrics
	log        zerolog.Logger
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Deps) *Server {
	gin.SetMode(cfg.GinMode)

	router := gin.New()
	router.Use(requestLogger(deps.Logger))
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}

	s := &Server{
		config:  cfg,
		handler: NewHandler(cfg, deps),
		metrics: deps.Metrics,
		log:     deps.Logger,
		router:  router,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check (no auth required)
	s.router.GET("/health", s.handler.HealthCheck)

	// Swagger documentation
	s.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	if s.metrics != nil && s.config.MetricsEnabled {
		s.router.GET(s.config.MetricsPath, gin.WrapH(s.metrics.Handler()))
	}

	// Twilio facing
	s.router.POST("/outbound-call", s.handler.InitiateCall)
	s.router.GET("/outbound-call-twiml", s.handler.OutboundTwiML)
	s.router.POST("/outbound-call-twiml", s.handler.OutboundTwiML)
	s.router.GET("/outbound-media-stream", s.handler.MediaStream)

	// ElevenLabs facing
	s.router.POST("/webhook/call_complete", s.handler.CallComplete)

	// Dashboard
	s.router.GET("/ws/dashboard", s.handler.Dashboard)

	api := s.router.Group("/api")

	// Apply authentication middleware if enabled
	if s.config.APIAuthEnabled {
		api.Use(s.authMiddleware())
	}

	{
		api.POST("/initiate_call", s.handler.InitiateCall)
		api.GET("/calls", s.handler.ListCalls)
		api.GET("/calls/summary", s.handler.CallSummary)
		api.GET("/calls/active", s.handler.ActiveCalls)
		api.GET("/call/:id", s.handler.GetCall)
	}
}

// authMiddleware validates Basic Auth credentials against the configured pair
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		username, password, ok := c.Request.BasicAuth()
		if !ok {
			c.Header("WWW-Authenticate", `Basic realm="callbridge"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "Authentication required",
			})
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.config.APIUsername)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.config.APIPassword)) == 1
		if !userOK || !passOK {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "Invalid credentials",
			})
			return
		}

		c.Set("api_user", username)
		c.Next()
	}
}

// requestLogger logs one line per request through zerolog
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Debug()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("HTTP server starting")
	s.log.Info().Msgf("Swagger UI available at http://%s/swagger/index.html", addr)

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

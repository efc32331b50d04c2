package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aparajitverma/TheExportExpress-sub004/internal/catalog"
	"github.com/aparajitverma/TheExportExpress-sub004/internal/config"
	"github.com/aparajitverma/TheExportExpress-sub004/internal/relay"
	apperrors "github.com/aparajitverma/TheExportExpress-sub004/pkg/errors"
	"github.com/aparajitverma/TheExportExpress-sub004/pkg/metrics"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memory "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Version is reported by the service banner.
const Version = "1.0.0"

const serviceName = "exportexpress-relay"

// Server represents the HTTP server
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	relay   *relay.Relay
	ws      http.Handler
	catalog catalog.Service
	router  *gin.Engine
	http    *http.Server
}

// NewServer creates a new HTTP server. ws is mounted at the configured websocket path.
func NewServer(cfg *config.Config, logger *zap.Logger, r *relay.Relay, ws http.Handler, cat catalog.Service) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger.Named("http"),
		relay:   r,
		ws:      ws,
		catalog: cat,
	}
	s.router = s.newRouter()
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the internal Gin engine for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) newRouter() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(otelgin.Middleware(serviceName))
	router.Use(cors.New(s.corsConfig()))
	router.Use(securityHeaders())

	// realtime traffic is not rate limited
	if s.ws != nil {
		router.GET(s.cfg.WS.Path, gin.WrapH(s.ws))
	}

	api := router.Group("/")
	if s.cfg.RateLimit.Enabled {
		api.Use(s.rateLimiter())
	}
	{
		api.GET("/", s.banner)
		api.GET("/health", s.healthCheck)
		api.GET("/metrics", gin.WrapH(promhttp.Handler()))
		api.GET("/api/products", s.listProducts)
		api.GET("/api/orders", s.listOrders)
		api.GET("/api/predictions", s.listPredictions)
		api.POST("/api/events", s.publishEvent)
		api.GET("/api/relay/stats", s.relayStats)
	}

	router.NoRoute(func(c *gin.Context) {
		writeProblem(c, apperrors.NewNotFoundError("no route for "+c.Request.Method+" "+c.Request.URL.Path, c.Request.URL.Path))
	})
	return router
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if s.cfg.CORS.AllowAll() {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.cfg.CORS.AllowedOrigins
	}
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// rateLimiter limits requests per client IP
func (s *Server) rateLimiter() gin.HandlerFunc {
	rate := limiter.Rate{
		Period: s.cfg.RateLimit.Period,
		Limit:  s.cfg.RateLimit.Requests,
	}
	store := memory.NewStore()
	return ginlimiter.NewMiddleware(limiter.New(store, rate),
		ginlimiter.WithLimitReachedHandler(func(c *gin.Context) {
			s.logger.Warn("Rate limit exceeded", zap.String("client_ip", c.ClientIP()), zap.String("path", c.Request.URL.Path))
			writeProblem(c, apperrors.NewRateLimitError("too many requests from this IP, please try again later", c.Request.URL.Path))
		}),
		ginlimiter.WithErrorHandler(func(c *gin.Context, err error) {
			s.logger.Error("Rate limiter failed", zap.Error(err))
			writeProblem(c, apperrors.NewInternalError("rate limiter unavailable", c.Request.URL.Path))
		}),
	)
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr), zap.String("websocket_path", s.cfg.WS.Path))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
// Hijacked websocket connections are not tracked here; close the relay for those.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

func (s *Server) banner(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "ExportExpress Website Integration Service",
		"status":  "running",
		"version": Version,
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) listProducts(c *gin.Context) {
	products, err := s.catalog.ListProducts(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to list products", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (s *Server) listOrders(c *gin.Context) {
	orders, err := s.catalog.ListOrders(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to list orders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) listPredictions(c *gin.Context) {
	predictions, err := s.catalog.ListPredictions(c.Request.Context())
	if err != nil {
		s.internalError(c, "failed to list predictions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": predictions})
}

// publishEvent lets internal producers publish over HTTP. The event has no
// sending connection, so every registered client receives it.
func (s *Server) publishEvent(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.WS.MaxMessageSize)
	body, err := c.GetRawData()
	if err != nil {
		writeProblem(c, apperrors.NewValidationError("request body could not be read: "+err.Error(), c.Request.URL.Path))
		return
	}

	ev, err := relay.DecodeEvent(body)
	if err != nil {
		metrics.RelayMalformedEvents.WithLabelValues("http").Inc()
		s.logger.Warn("Rejected malformed event", zap.Int("bytes", len(body)), zap.Error(err))
		p := apperrors.NewValidationError(err.Error(), c.Request.URL.Path)
		if fields := apperrors.ValidationErrorsFrom(err); len(fields) > 0 {
			p.WithValidationErrors(fields)
		}
		writeProblem(c, p)
		return
	}

	d := s.relay.Publish(ev, "")
	c.JSON(http.StatusAccepted, gin.H{
		"kind":     ev.Kind,
		"delivery": d,
	})
}

func (s *Server) relayStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.relay.Stats())
}

func (s *Server) internalError(c *gin.Context, detail string, err error) {
	s.logger.Error(detail, zap.Error(err))
	writeProblem(c, apperrors.NewInternalError(detail, c.Request.URL.Path))
}

// writeProblem writes p as an RFC 7807 response and aborts the chain.
func writeProblem(c *gin.Context, p *apperrors.ProblemDetails) {
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		p.WithTraceID(sc.TraceID().String())
	}
	c.Header("Content-Type", apperrors.ContentType)
	c.AbortWithStatusJSON(p.Status, p)
}

package telgpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	statusPathHealth  = "/healthz"
	statusPathStatus  = "/status"
	statusPathMetrics = "/metrics"

	xRequestIDHeader = "X-Request-ID"
)

// gatewayReporter is what the status server needs to know about the
// gateway connection
type gatewayReporter interface {
	Connected() bool
	GatewayCounts() (connects int64, disconnects int64)
}

type healthCheckResponse struct {
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
}

type statusResponse struct {
	Version                 string  `json:"version"`
	CommitSHA               string  `json:"commit_sha"`
	BuildTime               string  `json:"build_time"`
	StartedAt               string  `json:"started_at"`
	UptimeSeconds           float64 `json:"uptime_seconds"`
	DiscordGatewayConnected bool    `json:"discord_gateway_connected"`
	DiscordConnects         int64   `json:"discord_connects"`
	DiscordDisconnects      int64   `json:"discord_disconnects"`
}

// StatusServer is a small local HTTP server for health checks and
// Prometheus scrapes. It's disabled by default.
type StatusServer struct {
	config     *StatusServerConfig
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	gateway    gatewayReporter
	metrics    *Metrics
	startedAt  time.Time
	logger     *slog.Logger
}

func newStatusServer(
	config *StatusServerConfig,
	gateway gatewayReporter,
	metrics *Metrics,
	logger *slog.Logger,
) *StatusServer {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	srv := &StatusServer{
		config:    config,
		engine:    r,
		gateway:   gateway,
		metrics:   metrics,
		startedAt: time.Now(),
		logger:    logger,
	}
	srv.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		metricMiddleware(metrics),
	)

	r.GET(statusPathHealth, srv.healthCheck)
	r.GET(statusPathStatus, srv.status)
	r.GET(statusPathMetrics, gin.WrapH(metrics.Handler()))

	return srv
}

// Serve listens on the configured address and serves until Shutdown is
// called. http.ErrServerClosed isn't returned.
func (s *StatusServer) Serve(ctx context.Context) error {
	if s.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, "tcp", s.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", s.config.Listen, err)
		}
		s.listener = ln
	}
	s.logger.InfoContext(ctx, "status server listening", "addr", s.listener.Addr().String())
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *StatusServer) healthCheck(c *gin.Context) {
	connected := s.gateway.Connected()
	code := http.StatusOK
	if !connected {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, healthCheckResponse{DiscordGatewayConnected: connected})
}

func (s *StatusServer) status(c *gin.Context) {
	connects, disconnects := s.gateway.GatewayCounts()
	c.JSON(
		http.StatusOK, statusResponse{
			Version:                 Version,
			CommitSHA:               CommitSHA,
			BuildTime:               BuildTime,
			StartedAt:               s.startedAt.UTC().Format(time.RFC3339),
			UptimeSeconds:           time.Since(s.startedAt).Seconds(),
			DiscordGatewayConnected: s.gateway.Connected(),
			DiscordConnects:         connects,
			DiscordDisconnects:      disconnects,
		},
	)
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, and echoes it back in the X-Request-ID header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates one with request details included and
// sets it in the context.
func ginContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := logger.(*slog.Logger); ok {
			return requestLogger
		}
	}
	if base == nil {
		base = slog.Default()
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request along with its duration and
// response status. Scrapes of /metrics are logged at debug.
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		level := slog.LevelInfo
		if c.FullPath() == statusPathMetrics {
			level = slog.LevelDebug
		}
		requestLogger.Log(
			c.Request.Context(),
			level,
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}

// metricMiddleware counts requests by method, matched route and status
func metricMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
	}
}

// Package http provides the Echo bootstrap shared by campaign-manager's
// transport layer: standard middleware, health checks, and graceful
// shutdown. The core packages under internal/ never import it - cmd/server
// is the one place Echo is wired.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/jakekausler/campaign-manager/internal/logging"
)

// ServerConfig configures the Echo instance NewEchoServer builds.
type ServerConfig struct {
	Port            int
	Debug           bool
	BodyLimit       string // e.g., "10M"
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	RateLimit       float64 // requests per second, 0 disables
}

// DefaultServerConfig returns sensible defaults for local development.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            8080,
		BodyLimit:       "10M",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AllowedOrigins:  []string{"*"},
	}
}

// NewEchoServer builds an Echo instance with the middleware stack every
// campaign-manager deployment needs: structured request logging, panic
// recovery, body limits, CORS, request IDs, and optional rate limiting.
func NewEchoServer(config ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = config.Debug
	e.HTTPErrorHandler = CustomHTTPErrorHandler

	e.Use(middleware.RequestID())
	e.Use(echoLoggerMiddleware())
	e.Use(middleware.Recover())

	if config.BodyLimit != "" {
		e.Use(middleware.BodyLimit(config.BodyLimit))
	}

	if len(config.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: config.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	if config.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(config.RateLimit))))
	}

	return e
}

// echoLoggerMiddleware routes request logs through logging.Log instead of
// Echo's own writer, so request lines share the stream-splitting/formatter
// setup the rest of the process uses.
func echoLoggerMiddleware() echo.MiddlewareFunc {
	log := logging.WithComponent("http")
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true, LogURI: true, LogMethod: true, LogLatency: true, LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithField("request_id", v.RequestID).WithField("latency", v.Latency).WithField("status", v.Status)
			if v.Error != nil {
				entry.WithError(v.Error).Warn(v.Method + " " + v.URI)
			} else {
				entry.Info(v.Method + " " + v.URI)
			}
			return nil
		},
	})
}

// HealthResponse is the payload returned by the liveness/readiness probes.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service,omitempty"`
	Version string                 `json:"version,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheckHandler returns a handler reporting the process is up, with
// optional live details (e.g. database/redis ping results).
func HealthCheckHandler(serviceName, version string, detailsFunc func() map[string]interface{}) echo.HandlerFunc {
	return func(c echo.Context) error {
		var details map[string]interface{}
		if detailsFunc != nil {
			details = detailsFunc()
		}
		return c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Service: serviceName, Version: version, Details: details})
	}
}

// StartServer starts e with timeouts drawn from config. It blocks until the
// listener is closed (e.g. by GracefulShutdown).
func StartServer(e *echo.Echo, config ServerConfig) error {
	s := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	logging.WithComponent("http").WithField("port", config.Port).Info("starting server")
	return e.StartServer(s)
}

// GracefulShutdown drains in-flight requests before the process exits.
func GracefulShutdown(e *echo.Echo, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logging.WithComponent("http").Info("shutting down")
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// ErrorResponse is the JSON body CustomHTTPErrorHandler writes for failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// CustomHTTPErrorHandler writes failures as a uniform JSON error body instead
// of Echo's plaintext default: an echo.HTTPError keeps its code and message,
// any other error is written as 500 with its Error() text.
func CustomHTTPErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := err.Error()

	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
	}

	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	if jsonErr := c.JSON(code, ErrorResponse{Error: http.StatusText(code), Message: message}); jsonErr != nil {
		logging.WithComponent("http").WithError(jsonErr).Error("failed to write error response")
	}
}

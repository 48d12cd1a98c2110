// Package httpapi wires the local HTTP transport (Gin) to the gateway
// handler, middleware, and observability. The agent binds on the
// workstation's loopback and serves the terminal software the same API
// shape the cloud does, online or offline.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured request logs
//  4. Recovery: capture panics after the logger
//  5. Body size limiter
//  6. Metrics and /metrics endpoint
//  7. Rate limiter (per client IP)
//  8. CORS and security headers
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/griffd12/cloud-pos-sub004/internal/config"
	"github.com/griffd12/cloud-pos-sub004/internal/httpapi/handlers"
	"github.com/griffd12/cloud-pos-sub004/internal/httpapi/middleware"
	"github.com/griffd12/cloud-pos-sub004/internal/router"
	"github.com/griffd12/cloud-pos-sub004/internal/store"
)

// Deps carries the injected collaborators of the local API.
type Deps struct {
	Store   store.Store
	Cloud   handlers.CloudProxy
	Offline *router.Router

	// Online reports cloud reachability (the connectivity monitor's flag).
	Online func() bool
	// PrintState reports the print agent's control-channel state.
	PrintState func() string
}

// RegisterRoutes attaches all middleware and endpoints to the Gin engine.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB); receipts and checks are small
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP())
	r.Use(rl.Handler())

	// 8) CORS posture (allow all when none configured; loopback deployment)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Idempotency-Key"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Idempotency-Key"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers
	r.Use(middleware.SecurityHeaders())

	// Compression for list-shaped reads (menus, employees)
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	g := &handlers.Gateway{
		Online:         deps.Online,
		Cloud:          deps.Cloud,
		Offline:        deps.Offline,
		Store:          deps.Store,
		EnterpriseID:   cfg.Cloud.EnterpriseID,
		RequestTimeout: cfg.Cloud.RequestTimeout,
		PrintState:     deps.PrintState,
	}

	// Agent-local health, always answered here. /api/health is served
	// inside Proxy: Gin's tree rejects a static route alongside the
	// catch-all.
	r.GET("/health", g.Health)

	// Everything under /api flows through the gateway.
	r.Any("/api/*path", g.Proxy)
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; oversized bodies error on downstream reads.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

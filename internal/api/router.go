// Package api wires together the monitor's HTTP routes.
//
// Route surface:
//   - /health, /ready, /version are operational probes. Readiness degrades but
//     stays ready when the access log is unreachable: the monitor can still
//     serve everything already ingested, and failing the gate would hide the
//     one endpoint that explains what is wrong.
//   - /api/v1/dashboard/* is the query surface. Reads are lazy: each triggers
//     one ingest poll before answering, so the background poller is an
//     optimization, not a dependency.
//   - /api/v1/status reports ingestion and store diagnostics.
//
// The monitor is a read-only observer of its gateway and carries no user
// accounts; the API is meant for an internal network. Rate limiting keeps an
// accidentally exposed deployment from being trivially hammered.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/aihub/gateway-monitor/internal/api/dashboard"
	"github.com/aihub/gateway-monitor/internal/config"
	"github.com/aihub/gateway-monitor/internal/db/repositories"
	"github.com/aihub/gateway-monitor/internal/ingest"
	"github.com/aihub/gateway-monitor/internal/jobs"
	"github.com/aihub/gateway-monitor/internal/middleware"
	"github.com/aihub/gateway-monitor/internal/monitor"
	"github.com/aihub/gateway-monitor/internal/notify"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	ingestJob    *jobs.IngestPollJob
	retentionJob *jobs.RetentionSweepJob
	notifyJob    *jobs.AlertNotifyJob
	shippers     *notify.MultiShipper
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first. The
// shipper closes after the jobs stop, so a notification shipped by the final
// evaluation cycle still flushes.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.ingestJob != nil {
		bg.ingestJob.Stop()
	}
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	if bg.notifyJob != nil {
		bg.notifyJob.Stop()
	}
	if bg.shippers != nil {
		if err := bg.shippers.Close(); err != nil {
			slog.Error("failed to close alert shippers", "error", err)
		}
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Event store and ingestion pipeline
	sqlxDB := sqlx.NewDb(db, cfg.Database.Driver)
	eventRepo := repositories.NewEventRepository(sqlxDB)

	source := ingest.NewSource(cfg.AccessLog.Path, cfg.AccessLog.PollScanCap)
	parser := ingest.NewParser(cfg.Alerts.SuspiciousPaths, cfg.Alerts.SlowRequestMs)
	ingester := ingest.NewIngester(source, parser, eventRepo)

	engine := monitor.NewEngine(monitor.Thresholds{
		WindowMinutes:        cfg.Alerts.WindowMinutes,
		RateThreshold:        cfg.Alerts.RateThreshold,
		ClientErrorThreshold: cfg.Alerts.ClientErrorThreshold,
		MissingKeyThreshold:  cfg.Alerts.MissingKeyThreshold,
	})

	// Alert sinks are constructed even when notifications are disabled, so a
	// broken shipper config fails at startup instead of at the first alert.
	shippers, err := notify.NewMultiShipper(&cfg.Notify)
	if err != nil {
		log.Fatalf("Failed to initialize alert shippers: %v", err)
	}

	bg := &BackgroundServices{shippers: shippers}

	// Background ingestion keeps the store fresh between dashboard reads
	if cfg.Ingest.Enabled {
		bg.ingestJob = jobs.NewIngestPollJob(ingester)
		bg.ingestJob.Start(context.Background(), cfg.Ingest.IntervalSeconds)
		log.Printf("Ingest poll job started (every %d seconds)", cfg.Ingest.IntervalSeconds)
	}

	if cfg.Retention.Enabled {
		bg.retentionJob = jobs.NewRetentionSweepJob(eventRepo, cfg.Retention.MaxAgeDays)
		bg.retentionJob.Start(context.Background(), cfg.Retention.SweepIntervalMinutes)
		log.Printf("Retention sweep job started (every %d minutes, max age %d days)",
			cfg.Retention.SweepIntervalMinutes, cfg.Retention.MaxAgeDays)
	}

	if cfg.Notify.Enabled {
		bg.notifyJob = jobs.NewAlertNotifyJob(eventRepo, engine, shippers,
			cfg.Monitor.IgnoredClients, cfg.Alerts.SuppressRepeats)
		// Evaluate once a minute; the alert window is minutes wide, so a finer
		// cadence only re-reports the same conditions.
		bg.notifyJob.Start(context.Background(), 60)
		log.Printf("Alert notifier started (every 60 seconds, %d sinks)", shippers.Active())
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint (includes access log probe)
	router.GET("/ready", readinessHandler(db, ingester))

	// API version
	router.GET("/version", versionHandler())

	dashboardHandler := dashboard.NewHandler(eventRepo, ingester, engine, cfg, db)

	apiV1 := router.Group("/api/v1")
	if cfg.Security.RateLimiting.Enabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
			BurstSize:         cfg.Security.RateLimiting.Burst,
			CleanupInterval:   5 * time.Minute,
		})
		bg.rateLimiters = append(bg.rateLimiters, limiter)
		apiV1.Use(middleware.RateLimitMiddleware(limiter))
	}
	{
		dashboardGroup := apiV1.Group("/dashboard")
		{
			dashboardGroup.GET("/summary", dashboardHandler.GetSummary)
			dashboardGroup.GET("/events", dashboardHandler.ListEvents)
			dashboardGroup.GET("/export", dashboardHandler.ExportEvents)
			dashboardGroup.POST("/purge", dashboardHandler.PurgeEvents)
		}

		apiV1.GET("/status", dashboardHandler.GetStatus)
	}

	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. The event store must be reachable; an unreachable access log degrades the check but does not fail it, since stored data is still served.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks: per-dependency state"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. Unlike the
// liveness probe (/health), this also probes the access log. A missing log is
// reported as degraded rather than failing the gate: the monitor still
// answers every read from the store, and taking it out of rotation would
// hide the status endpoint that explains the problem.
func readinessHandler(db *sql.DB, ingester *ingest.Ingester) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		// Check database connection
		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if err := ingester.Probe(); err != nil {
			checks["access_log"] = "degraded"
		} else {
			checks["access_log"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// Log the request
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the global
	// handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowMethods := strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	if allowMethods == "" {
		allowMethods = "GET, POST, OPTIONS"
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", allowMethods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

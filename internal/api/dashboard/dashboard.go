// Package dashboard implements the monitor's query surface: windowed traffic
// summaries, raw event pages, NDJSON export, operational status, and the
// on-demand purge. The read endpoints are lazy: each one triggers a single
// ingest poll before answering, so responses reflect the access log as of the
// request even when the background poller is disabled. An unreachable log
// never fails a read; the response is served from the store and marked
// degraded so the UI can tell stale data from no data.
package dashboard

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aihub/gateway-monitor/internal/config"
	"github.com/aihub/gateway-monitor/internal/db/repositories"
	"github.com/aihub/gateway-monitor/internal/ingest"
	"github.com/aihub/gateway-monitor/internal/monitor"
)

// maxWindowMinutes caps the query window at one week. Anything longer reads
// the whole store anyway once retention has done its job.
const maxWindowMinutes = 7 * 24 * 60

// Handler serves the dashboard endpoints.
type Handler struct {
	events   *repositories.EventRepository
	ingester *ingest.Ingester
	engine   *monitor.Engine
	cfg      *config.Config
	db       *sql.DB
}

// NewHandler creates a new dashboard handler.
func NewHandler(
	events *repositories.EventRepository,
	ingester *ingest.Ingester,
	engine *monitor.Engine,
	cfg *config.Config,
	database *sql.DB,
) *Handler {
	return &Handler{
		events:   events,
		ingester: ingester,
		engine:   engine,
		cfg:      cfg,
		db:       database,
	}
}

// refresh runs one ingest poll on behalf of a read request. An unavailable
// log degrades the read instead of failing it; a cursor or store failure
// fails the request here and the caller just returns. A poll already in
// flight is not waited for: the store is consistent at every instant, so the
// read proceeds with what has committed.
func (h *Handler) refresh(c *gin.Context) (degraded, ok bool) {
	outcome, err := h.ingester.Poll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to ingest access log"})
		return false, false
	}
	return outcome.Degraded, true
}

// windowMinutes parses the minutes query parameter, falling back to the
// configured default window and capping at one week.
func (h *Handler) windowMinutes(c *gin.Context) int {
	fallback := h.cfg.Monitor.DefaultWindowMinutes

	minutes, err := strconv.Atoi(c.DefaultQuery("minutes", strconv.Itoa(fallback)))
	if err != nil || minutes < 1 {
		return fallback
	}
	if minutes > maxWindowMinutes {
		return maxWindowMinutes
	}
	return minutes
}

// status.go implements the operational status endpoint: where ingestion
// stands, how the store looks, and whether the access log is reachable right
// now. It deliberately does not trigger a poll; it reports the monitor as it
// is, which is what you want when ingestion is the thing being debugged.
package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aihub/gateway-monitor/internal/db"
	"github.com/aihub/gateway-monitor/internal/db/models"
	"github.com/aihub/gateway-monitor/internal/db/repositories"
	"github.com/aihub/gateway-monitor/internal/ingest"
)

// Access log reachability values in the status payload.
const (
	accessLogOK          = "ok"
	accessLogUnavailable = "unavailable"
)

// MigrationStatus reports the store's schema version.
type MigrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

// StatusResponse is the full operational status payload.
type StatusResponse struct {
	Ingest    ingest.Status            `json:"ingest"`
	Cursor    *models.IngestCursor     `json:"cursor,omitempty"`
	Store     *repositories.StoreStats `json:"store"`
	AccessLog string                   `json:"access_log"`
	Migration *MigrationStatus         `json:"migration,omitempty"`
}

// @Summary      Get monitor status
// @Description  Returns ingestion progress (cursor, parse failures, degraded state), store statistics, access log reachability, and the schema version. Does not trigger an ingest poll.
// @Tags         Dashboard
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/status [get]
// GetStatus reports the monitor's operational state.
func (h *Handler) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()

	cursor, err := h.events.GetCursor(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load ingest cursor"})
		return
	}

	stats, err := h.events.Stats(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load store stats"})
		return
	}

	resp := StatusResponse{
		Ingest:    h.ingester.Status(),
		Cursor:    cursor,
		Store:     stats,
		AccessLog: accessLogOK,
	}
	if err := h.ingester.Probe(); err != nil {
		resp.AccessLog = accessLogUnavailable
	}

	// Schema version is informative; a failure to read it does not fail the
	// endpoint.
	if version, dirty, err := db.GetMigrationVersion(h.db, h.cfg.Database.Driver); err == nil {
		resp.Migration = &MigrationStatus{Version: version, Dirty: dirty}
	}

	c.JSON(http.StatusOK, resp)
}

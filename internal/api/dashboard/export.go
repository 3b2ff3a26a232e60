// export.go implements the NDJSON download: the window's events streamed as
// gzip-compressed JSON lines for offline analysis.
package dashboard

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/aihub/gateway-monitor/internal/db/repositories"
)

// @Summary      Export access events
// @Description  Streams the window's events as gzip-compressed NDJSON, one event per line, newest first. The export honors the ignored-clients filter and is capped at monitor.max_page_size rows.
// @Tags         Dashboard
// @Produce      octet-stream
// @Param        minutes  query  int  false  "Window size in minutes (default monitor.default_window_minutes, max 10080)"
// @Success      200  {file}  binary
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/dashboard/export [get]
// ExportEvents streams the window's events as a compressed NDJSON download.
func (h *Handler) ExportEvents(c *gin.Context) {
	degraded, ok := h.refresh(c)
	if !ok {
		return
	}

	minutes := h.windowMinutes(c)
	since := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)

	events, _, _, err := h.events.ListEvents(c.Request.Context(), repositories.EventFilters{
		Since:          &since,
		IgnoredClients: h.cfg.Monitor.IgnoredClients,
	}, h.cfg.Monitor.MaxPageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load events"})
		return
	}

	filename := fmt.Sprintf("gateway-events-%s.ndjson.gz", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Content-Encoding", "gzip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	if degraded {
		c.Header("X-Monitor-Degraded", "true")
	}
	c.Status(http.StatusOK)

	gz := gzip.NewWriter(c.Writer)
	defer gz.Close()

	enc := json.NewEncoder(gz)
	for _, ev := range events {
		// Headers are already out; a mid-stream write error just ends the
		// download early.
		if err := enc.Encode(ev); err != nil {
			return
		}
	}
}

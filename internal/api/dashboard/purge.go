// purge.go implements the on-demand purge: an immediate retention sweep with
// a caller-chosen cutoff. There is no archival; purged rows are gone.
package dashboard

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aihub/gateway-monitor/internal/telemetry"
)

type purgeRequest struct {
	OlderThanDays int `json:"older_than_days"`
}

// @Summary      Purge old events
// @Description  Deletes events older than the given number of days and reports how many rows were removed. With no body (or older_than_days omitted) the configured retention.max_age_days applies.
// @Tags         Dashboard
// @Accept       json
// @Produce      json
// @Param        request  body  purgeRequest  false  "Purge cutoff in days"
// @Success      200  {object}  map[string]interface{}  "purged, cutoff"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/dashboard/purge [post]
// PurgeEvents deletes events older than the requested cutoff.
func (h *Handler) PurgeEvents(c *gin.Context) {
	var req purgeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.OlderThanDays == 0 {
		req.OlderThanDays = h.cfg.Retention.MaxAgeDays
	}
	if req.OlderThanDays < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than_days must be a positive integer"})
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -req.OlderThanDays)

	purged, err := h.events.PurgeOlderThan(c.Request.Context(), cutoff)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to purge events"})
		return
	}

	if purged > 0 {
		telemetry.StorePurgedEventsTotal.Add(float64(purged))
	}
	slog.Info("purged events on demand", "purged", purged, "older_than_days", req.OlderThanDays)

	c.JSON(http.StatusOK, gin.H{
		"purged": purged,
		"cutoff": cutoff.Format(time.RFC3339),
	})
}

// events.go implements the raw event listing: the newest events of the
// window plus the pagination metadata the UI needs to distinguish a
// truncated page from a complete one.
package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aihub/gateway-monitor/internal/db/models"
	"github.com/aihub/gateway-monitor/internal/db/repositories"
)

// EventsResponse is one page of events, newest first.
type EventsResponse struct {
	WindowMinutes   int                   `json:"window_minutes"`
	Degraded        bool                  `json:"degraded"`
	Events          []*models.AccessEvent `json:"events"`
	Count           int                   `json:"count"`
	Total           int                   `json:"total"`
	Truncated       bool                  `json:"truncated"`
	IgnoredRequests int                   `json:"ignored_request_count"`
}

// @Summary      List access events
// @Description  Returns the newest events of the requested window along with the window's true total, so a capped page is recognizable. Triggers an ingest poll first; an unreachable log serves the stored events with degraded=true.
// @Tags         Dashboard
// @Produce      json
// @Param        minutes  query  int  false  "Window size in minutes (default monitor.default_window_minutes, max 10080)"
// @Param        limit    query  int  false  "Maximum events to return (default 100, capped at monitor.max_page_size)"
// @Success      200  {object}  EventsResponse
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/dashboard/events [get]
// ListEvents returns the newest events of the requested window.
func (h *Handler) ListEvents(c *gin.Context) {
	degraded, ok := h.refresh(c)
	if !ok {
		return
	}

	minutes := h.windowMinutes(c)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		limit = 100
	}
	if limit > h.cfg.Monitor.MaxPageSize {
		limit = h.cfg.Monitor.MaxPageSize
	}

	since := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)

	events, total, ignored, err := h.events.ListEvents(c.Request.Context(), repositories.EventFilters{
		Since:          &since,
		IgnoredClients: h.cfg.Monitor.IgnoredClients,
	}, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load events"})
		return
	}

	c.JSON(http.StatusOK, EventsResponse{
		WindowMinutes:   minutes,
		Degraded:        degraded,
		Events:          events,
		Count:           len(events),
		Total:           total,
		Truncated:       total > len(events),
		IgnoredRequests: ignored,
	})
}

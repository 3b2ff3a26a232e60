// summary.go implements the aggregate dashboard view: headline totals, status
// family breakdown, top-N rankings, and the currently firing alerts, all
// recomputed from the event window on every request.
package dashboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aihub/gateway-monitor/internal/db/repositories"
	"github.com/aihub/gateway-monitor/internal/monitor"
)

// SummaryResponse is the aggregate payload for one window.
type SummaryResponse struct {
	WindowMinutes   int                   `json:"window_minutes"`
	GeneratedAt     time.Time             `json:"generated_at"`
	Degraded        bool                  `json:"degraded"`
	Totals          monitor.Totals        `json:"totals"`
	StatusFamilies  map[string]int        `json:"status_families"`
	TopAPIKeys      []monitor.RankedCount `json:"top_api_keys"`
	TopClients      []monitor.RankedCount `json:"top_clients"`
	TopEndpoints    []monitor.RankedCount `json:"top_endpoints"`
	TopUserAgents   []monitor.RankedCount `json:"top_user_agents"`
	Alerts          []monitor.Alert       `json:"alerts"`
	IgnoredRequests int                   `json:"ignored_request_count"`
}

// @Summary      Get traffic summary
// @Description  Returns aggregated traffic statistics and active alerts for the requested window. Triggers an ingest poll first so the response reflects the log as of the request; if the log is unreachable the summary is served from the store with degraded=true.
// @Tags         Dashboard
// @Produce      json
// @Param        minutes  query  int  false  "Window size in minutes (default monitor.default_window_minutes, max 10080)"
// @Param        limit    query  int  false  "Size of the top-N rankings (default 10, max 100)"
// @Success      200  {object}  SummaryResponse
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v1/dashboard/summary [get]
// GetSummary returns the aggregate view of the requested window.
func (h *Handler) GetSummary(c *gin.Context) {
	degraded, ok := h.refresh(c)
	if !ok {
		return
	}

	minutes := h.windowMinutes(c)

	topN, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(monitor.DefaultTopN)))
	if err != nil || topN < 1 || topN > 100 {
		topN = monitor.DefaultTopN
	}

	now := time.Now().UTC()
	since := now.Add(-time.Duration(minutes) * time.Minute)

	events, _, ignored, err := h.events.ListEvents(c.Request.Context(), repositories.EventFilters{
		Since:          &since,
		IgnoredClients: h.cfg.Monitor.IgnoredClients,
	}, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load events"})
		return
	}

	summary := monitor.Summarize(events, topN)

	c.JSON(http.StatusOK, SummaryResponse{
		WindowMinutes:   minutes,
		GeneratedAt:     now,
		Degraded:        degraded,
		Totals:          summary.Totals,
		StatusFamilies:  summary.StatusFamilies,
		TopAPIKeys:      summary.TopAPIKeys,
		TopClients:      summary.TopClients,
		TopEndpoints:    summary.TopEndpoints,
		TopUserAgents:   summary.TopUserAgents,
		Alerts:          h.engine.Evaluate(events, now),
		IgnoredRequests: ignored,
	})
}

// Package monitor computes the dashboard's derived views: windowed traffic
// summaries and heuristic security alerts. Both are recomputed from the
// event window on every evaluation; nothing in this package holds state
// between calls.
package monitor

import (
	"sort"

	"github.com/aihub/gateway-monitor/internal/db/models"
)

// DefaultTopN bounds the ranked lists in a summary when the query does not
// override it.
const DefaultTopN = 10

// RankedCount is one entry of a top-N list.
type RankedCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Totals are the headline counters of a summary window.
type Totals struct {
	Requests         int `json:"requests"`
	UniqueClients    int `json:"unique_clients"`
	UniqueAPIKeys    int `json:"unique_api_keys"`
	UniqueUserAgents int `json:"unique_user_agents"`
	Flagged          int `json:"flagged"`
}

// Summary is the aggregate view of one window.
type Summary struct {
	Totals         Totals         `json:"totals"`
	StatusFamilies map[string]int `json:"status_families"`
	TopAPIKeys     []RankedCount  `json:"top_api_keys"`
	TopClients     []RankedCount  `json:"top_clients"`
	TopEndpoints   []RankedCount  `json:"top_endpoints"`
	TopUserAgents  []RankedCount  `json:"top_user_agents"`
}

// rankTally accumulates counts while remembering when each value first
// appeared, so equal counts rank deterministically by order of appearance.
type rankTally struct {
	counts map[string]int
	first  map[string]int
	seen   int
}

func newRankTally() *rankTally {
	return &rankTally{counts: make(map[string]int), first: make(map[string]int)}
}

func (t *rankTally) add(value string) {
	if _, ok := t.counts[value]; !ok {
		t.first[value] = t.seen
	}
	t.seen++
	t.counts[value]++
}

func (t *rankTally) top(n int) []RankedCount {
	values := make([]string, 0, len(t.counts))
	for v := range t.counts {
		values = append(values, v)
	}

	sort.Slice(values, func(i, j int) bool {
		a, b := values[i], values[j]
		if t.counts[a] != t.counts[b] {
			return t.counts[a] > t.counts[b]
		}
		return t.first[a] < t.first[b]
	})

	if n > 0 && len(values) > n {
		values = values[:n]
	}

	out := make([]RankedCount, 0, len(values))
	for _, v := range values {
		out = append(out, RankedCount{Value: v, Count: t.counts[v]})
	}
	return out
}

// Summarize computes the aggregate view of a window. The input slice is
// newest-first as the store returns it; iteration runs backwards so
// first-appearance tie-breaking follows the traffic's actual order.
// topN <= 0 selects DefaultTopN. The distinct api-key count includes the
// no-key sentinel: it is a stored field value like any other.
func Summarize(events []*models.AccessEvent, topN int) *Summary {
	if topN <= 0 {
		topN = DefaultTopN
	}

	s := &Summary{StatusFamilies: make(map[string]int)}

	keys := newRankTally()
	clients := newRankTally()
	endpoints := newRankTally()
	agents := newRankTally()

	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]

		s.Totals.Requests++
		if ev.IsFlagged {
			s.Totals.Flagged++
		}
		s.StatusFamilies[ev.StatusFamily]++

		clients.add(ev.ClientIP)
		keys.add(ev.APIKey)
		endpoints.add(ev.Path)
		if ev.UserAgent != nil {
			agents.add(*ev.UserAgent)
		}
	}

	s.Totals.UniqueClients = len(clients.counts)
	s.Totals.UniqueAPIKeys = len(keys.counts)
	s.Totals.UniqueUserAgents = len(agents.counts)

	s.TopAPIKeys = keys.top(topN)
	s.TopClients = clients.top(topN)
	s.TopEndpoints = endpoints.top(topN)
	s.TopUserAgents = agents.top(topN)

	return s
}

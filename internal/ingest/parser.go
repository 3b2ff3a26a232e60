// parser.go normalizes raw access-log lines into events. The primary format
// is the gateway's JSON-per-line log; nginx combined-format lines from
// before the gateway switched to structured logging parse through a
// fallback. Field types in the JSON log have drifted over time (numbers
// serialized as strings, several timestamp spellings), so decoding is
// deliberately tolerant.
package ingest

import (
	"fmt"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/aihub/gateway-monitor/internal/db/models"
	"github.com/aihub/gateway-monitor/pkg/keyid"
)

const combinedTimeLayout = "02/Jan/2006:15:04:05 -0700"

// combinedLogPattern matches nginx combined/common log lines. The trailing
// referer and user-agent pair is optional so plain common-format lines
// still match.
var combinedLogPattern = regexp.MustCompile(
	`^(\S+) \S+ \S+ \[([^\]]+)\] "(\S+) (\S+)[^"]*" (\d{3}) (?:\d+|-)(?: "[^"]*" "([^"]*)")?`)

// vpnRange is carrier-grade NAT space, used here by the overlay VPN the
// gateway is published on.
var vpnRange = mustParseCIDR("100.64.0.0/10")

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Parser turns one raw log line into a normalized AccessEvent.
type Parser struct {
	suspicious []string // lowercased deny-list substrings
	slowMs     int64
}

// NewParser builds a parser with the path deny-list behind the
// suspicious_path flag and the very_slow threshold in milliseconds.
func NewParser(suspiciousPaths []string, slowMs int64) *Parser {
	p := &Parser{slowMs: slowMs}
	for _, s := range suspiciousPaths {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			p.suspicious = append(p.suspicious, s)
		}
	}
	return p
}

// Parse normalizes one line. Unparsable lines return an error; the caller
// counts them and moves on, so one bad line never aborts a batch.
func (p *Parser) Parse(line string) (*models.AccessEvent, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty line")
	}

	if strings.HasPrefix(line, "{") {
		ev, err := p.parseStructured(line)
		if err == nil {
			return ev, nil
		}
	}

	ev, err := p.parseCombined(line)
	if err == nil {
		return ev, nil
	}

	return nil, fmt.Errorf("line matches no known access-log format")
}

// flexString accepts JSON strings and bare numbers. nginx emits numeric
// fields either way depending on the log_format escape mode in effect.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

// structuredLine is the tolerant superset of the fields the gateway's JSON
// log_format has carried across versions. Aliases cover renames; flexString
// fields cover type drift.
type structuredLine struct {
	Ts           flexString `json:"ts"`
	Time         flexString `json:"time"`
	TimeISO      string     `json:"time_iso8601"`
	TimeLocal    string     `json:"time_local"`
	RemoteAddr   string     `json:"remote_addr"`
	ClientIP     string     `json:"client_ip"`
	Request      string     `json:"request"`
	Method       string     `json:"method"`
	Path         string     `json:"path"`
	URI          string     `json:"uri"`
	Status       flexString `json:"status"`
	RequestTime  flexString `json:"request_time"`
	UpstreamTime flexString `json:"upstream_response_time"`
	UserAgent    string     `json:"http_user_agent"`
	UserAgentAlt string     `json:"user_agent"`
	APIKey       string     `json:"http_x_api_key"`
	APIKeyAlt    string     `json:"api_key"`
}

func (r *structuredLine) timestamp() (time.Time, error) {
	for _, candidate := range []string{string(r.Ts), string(r.Time), r.TimeISO, r.TimeLocal} {
		if candidate == "" {
			continue
		}
		if t, err := parseTimestamp(candidate); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("record has no usable timestamp")
}

func (r *structuredLine) methodPath() (string, string) {
	method, path := r.Method, firstNonEmpty(r.Path, r.URI)
	if method != "" && path != "" {
		return method, path
	}
	// "GET /v1/chat/completions HTTP/1.1"
	if parts := strings.Fields(r.Request); len(parts) >= 2 {
		return parts[0], parts[1]
	}
	return method, path
}

func (r *structuredLine) statusCode() (int, error) {
	raw := strings.TrimSpace(string(r.Status))
	if raw == "" {
		return 0, fmt.Errorf("record has no status")
	}
	status, err := strconv.Atoi(raw)
	if err != nil || status < 100 || status > 599 {
		return 0, fmt.Errorf("record has invalid status %q", raw)
	}
	return status, nil
}

func (r *structuredLine) requestTimeMs() *int64 {
	if ms := parseSecondsMs(string(r.RequestTime)); ms != nil {
		return ms
	}
	return parseSecondsMs(string(r.UpstreamTime))
}

func (r *structuredLine) userAgent() *string {
	ua := firstNonEmpty(r.UserAgent, r.UserAgentAlt)
	if ua == "" || ua == "-" {
		return nil
	}
	return &ua
}

func (p *Parser) parseStructured(line string) (*models.AccessEvent, error) {
	var rec structuredLine
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil, fmt.Errorf("invalid json record: %w", err)
	}

	ts, err := rec.timestamp()
	if err != nil {
		return nil, err
	}

	clientIP := firstNonEmpty(rec.RemoteAddr, rec.ClientIP)
	if clientIP == "" {
		return nil, fmt.Errorf("record has no client address")
	}

	method, path := rec.methodPath()
	if method == "" || path == "" {
		return nil, fmt.Errorf("record has no request line")
	}

	status, err := rec.statusCode()
	if err != nil {
		return nil, err
	}

	ev := &models.AccessEvent{
		Timestamp:     ts,
		ClientIP:      clientIP,
		NetworkScope:  classifyScope(clientIP),
		Method:        method,
		Path:          path,
		Status:        status,
		StatusFamily:  models.StatusFamily(status),
		RequestTimeMs: rec.requestTimeMs(),
		UserAgent:     rec.userAgent(),
	}
	p.applyFlags(ev, firstNonEmpty(rec.APIKey, rec.APIKeyAlt))
	return ev, nil
}

func (p *Parser) parseCombined(line string) (*models.AccessEvent, error) {
	m := combinedLogPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("not a combined-format line")
	}

	ts, err := time.Parse(combinedTimeLayout, m[2])
	if err != nil {
		return nil, fmt.Errorf("invalid combined-format timestamp: %w", err)
	}

	status, err := strconv.Atoi(m[5])
	if err != nil || status < 100 || status > 599 {
		return nil, fmt.Errorf("invalid combined-format status %q", m[5])
	}

	ev := &models.AccessEvent{
		Timestamp:    ts.UTC(),
		ClientIP:     m[1],
		NetworkScope: classifyScope(m[1]),
		Method:       m[3],
		Path:         m[4],
		Status:       status,
		StatusFamily: models.StatusFamily(status),
	}
	if ua := m[6]; ua != "" && ua != "-" {
		ev.UserAgent = &ua
	}

	// Combined-format lines predate the api key header and carry no timing.
	p.applyFlags(ev, "")
	return ev, nil
}

// applyFlags derives the api key column and the security and health flags.
// Key material is masked before it ever reaches the event.
func (p *Parser) applyFlags(ev *models.AccessEvent, rawKey string) {
	if rawKey == "" || rawKey == "-" {
		ev.APIKey = models.APIKeyNone
		ev.Flags = append(ev.Flags, models.FlagNoAPIKey)
	} else {
		ev.APIKey = keyid.Mask(rawKey)
	}

	if ev.Status >= 500 {
		ev.Flags = append(ev.Flags, models.FlagUpstreamError)
	} else if ev.Status >= 400 {
		ev.Flags = append(ev.Flags, models.FlagClientError)
	}

	if p.isSuspicious(ev.Path) {
		ev.Flags = append(ev.Flags, models.FlagSuspiciousPath)
	}

	if ev.RequestTimeMs != nil && p.slowMs > 0 && *ev.RequestTimeMs > p.slowMs {
		ev.Flags = append(ev.Flags, models.FlagVerySlow)
	}

	ev.IsFlagged = len(ev.Flags) > 0
}

func (p *Parser) isSuspicious(path string) bool {
	lower := strings.ToLower(path)
	for _, pattern := range p.suspicious {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// classifyScope labels where a client sits relative to the gateway. Checks
// run most-specific first so the VPN range is never reported as public.
// Unparsable addresses classify as public, the conservative choice.
func classifyScope(addr string) string {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return models.ScopePublic
	}
	switch {
	case ip.IsLoopback():
		return models.ScopeLoopback
	case ip.IsPrivate():
		return models.ScopePrivate
	case vpnRange.Contains(ip):
		return models.ScopeVPN
	default:
		return models.ScopePublic
	}
}

// parseTimestamp accepts the timestamp shapes the gateway and nginx have
// emitted over time: unix seconds or milliseconds (number or numeric
// string), RFC3339/ISO8601, and the combined-log local format.
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		// Millisecond epochs passed 1e12 in 2001; second epochs will not
		// reach it for thousands of years.
		if f > 1e12 {
			return time.UnixMilli(int64(f)).UTC(), nil
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, combinedTimeLayout} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// parseSecondsMs converts nginx's fractional-seconds timing ("0.064", 0.064,
// or "-" when absent) into milliseconds. Upstream lists like "0.004, 0.060"
// take the final hop.
func parseSecondsMs(raw string) *int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "-" {
		return nil
	}
	if i := strings.LastIndex(raw, ","); i >= 0 {
		raw = strings.TrimSpace(raw[i+1:])
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return nil
	}
	ms := int64(math.Round(f * 1000))
	return &ms
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

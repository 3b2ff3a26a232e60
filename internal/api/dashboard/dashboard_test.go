package dashboard

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/aihub/gateway-monitor/internal/config"
	"github.com/aihub/gateway-monitor/internal/db"
	"github.com/aihub/gateway-monitor/internal/db/repositories"
	"github.com/aihub/gateway-monitor/internal/ingest"
	"github.com/aihub/gateway-monitor/internal/monitor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Router helpers
// ---------------------------------------------------------------------------

// testConfig returns a config with production-shaped defaults pointing at the
// given access log. Tests override individual fields as needed.
func testConfig(logPath string) *config.Config {
	return &config.Config{
		Database:  config.DatabaseConfig{Driver: db.DriverSQLite},
		AccessLog: config.AccessLogConfig{Path: logPath, PollScanCap: 1000},
		Monitor:   config.MonitorConfig{DefaultWindowMinutes: 60, MaxPageSize: 1000},
		Alerts: config.AlertsConfig{
			WindowMinutes:        5,
			RateThreshold:        120,
			ClientErrorThreshold: 20,
			MissingKeyThreshold:  10,
			SlowRequestMs:        10000,
		},
		Retention: config.RetentionConfig{Enabled: true, MaxAgeDays: 14, SweepIntervalMinutes: 60},
	}
}

func newDashboardRoutes(repo *repositories.EventRepository, database *sql.DB, cfg *config.Config) *gin.Engine {
	source := ingest.NewSource(cfg.AccessLog.Path, cfg.AccessLog.PollScanCap)
	parser := ingest.NewParser(cfg.Alerts.SuspiciousPaths, cfg.Alerts.SlowRequestMs)
	ingester := ingest.NewIngester(source, parser, repo)
	engine := monitor.NewEngine(monitor.Thresholds{
		WindowMinutes:        cfg.Alerts.WindowMinutes,
		RateThreshold:        cfg.Alerts.RateThreshold,
		ClientErrorThreshold: cfg.Alerts.ClientErrorThreshold,
		MissingKeyThreshold:  cfg.Alerts.MissingKeyThreshold,
	})
	h := NewHandler(repo, ingester, engine, cfg, database)

	r := gin.New()
	r.GET("/api/v1/dashboard/summary", h.GetSummary)
	r.GET("/api/v1/dashboard/events", h.ListEvents)
	r.GET("/api/v1/dashboard/export", h.ExportEvents)
	r.POST("/api/v1/dashboard/purge", h.PurgeEvents)
	r.GET("/api/v1/status", h.GetStatus)
	return r
}

// newMonitorRouter wires the dashboard over a migrated throwaway sqlite store.
func newMonitorRouter(t *testing.T, cfg *config.Config) (*repositories.EventRepository, *gin.Engine) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", filepath.Join(t.TempDir(), "events.db"))
	sqlDB, err := db.Connect(db.DriverSQLite, dsn, 2, 1)
	if err != nil {
		t.Fatalf("db.Connect: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.RunMigrations(sqlDB, db.DriverSQLite, "up"); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	repo := repositories.NewEventRepository(sqlx.NewDb(sqlDB, db.DriverSQLite))
	return repo, newDashboardRoutes(repo, sqlDB, cfg)
}

// newMockMonitorRouter wires the dashboard over sqlmock for error-path tests.
func newMockMonitorRouter(t *testing.T, cfg *config.Config) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	repo := repositories.NewEventRepository(sqlx.NewDb(mockDB, "sqlmock"))
	return mock, newDashboardRoutes(repo, mockDB, cfg)
}

// ---------------------------------------------------------------------------
// Fixture helpers
// ---------------------------------------------------------------------------

// accessLogLine renders one structured access-log line the parser accepts.
// An empty apiKey omits the key field, which ingestion records as the no-key
// sentinel.
func accessLogLine(ts time.Time, client, method, path string, status int, apiKey string) string {
	keyField := ""
	if apiKey != "" {
		keyField = fmt.Sprintf(`,"http_x_api_key":%q`, apiKey)
	}
	return fmt.Sprintf(
		`{"time_iso8601":%q,"remote_addr":%q,"request":"%s %s HTTP/1.1","status":%d,"request_time":"0.042","http_user_agent":"curl/8.4.0"%s}`,
		ts.Format(time.RFC3339), client, method, path, status, keyField)
}

// writeAccessLog writes the given lines to a new file and returns its path.
func writeAccessLog(t *testing.T, lines ...string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gateway_access.log")
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func jsonBody(v interface{}) *bytes.Buffer {
	b, _ := json.Marshal(v)
	return bytes.NewBuffer(b)
}

func getJSON(resp *httptest.ResponseRecorder) map[string]interface{} {
	var m map[string]interface{}
	json.Unmarshal(resp.Body.Bytes(), &m)
	return m
}

// errDB is a sentinel error for DB failures in tests.
var errDB = &dbError{"database error"}

type dbError struct{ msg string }

func (e *dbError) Error() string { return e.msg }

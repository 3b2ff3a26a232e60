package dashboard

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// GetStatus tests
// ---------------------------------------------------------------------------

func TestGetStatus_FreshStore(t *testing.T) {
	logPath := writeAccessLog(t)
	_, r := newMonitorRouter(t, testConfig(logPath))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)

	// No poll has run, so no cursor exists yet
	if resp["cursor"] != nil {
		t.Errorf("cursor = %v, want absent on a fresh store", resp["cursor"])
	}
	store := resp["store"].(map[string]interface{})
	if store["events"] != float64(0) {
		t.Errorf("store.events = %v, want 0", store["events"])
	}
	if resp["access_log"] != "ok" {
		t.Errorf("access_log = %v, want ok", resp["access_log"])
	}
	migration := resp["migration"].(map[string]interface{})
	if migration["version"] == float64(0) {
		t.Error("migration.version should be positive after RunMigrations")
	}
	if migration["dirty"] != false {
		t.Errorf("migration.dirty = %v, want false", migration["dirty"])
	}
}

func TestGetStatus_AfterIngest(t *testing.T) {
	now := time.Now().UTC()
	logPath := writeAccessLog(t,
		accessLogLine(now.Add(-time.Minute), "203.0.113.9", "GET", "/v1/models", 200, ""),
		accessLogLine(now, "203.0.113.9", "GET", "/v1/models", 500, ""),
	)
	_, r := newMonitorRouter(t, testConfig(logPath))

	// A dashboard read triggers the poll; status itself never does.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/dashboard/events", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("priming read failed: status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := getJSON(w)

	cursor := resp["cursor"].(map[string]interface{})
	if cursor["byte_offset"].(float64) <= 0 {
		t.Errorf("cursor.byte_offset = %v, want > 0 after ingesting", cursor["byte_offset"])
	}
	if cursor["last_sequence"] != float64(2) {
		t.Errorf("cursor.last_sequence = %v, want 2", cursor["last_sequence"])
	}

	store := resp["store"].(map[string]interface{})
	if store["events"] != float64(2) {
		t.Errorf("store.events = %v, want 2", store["events"])
	}
	if store["flagged"] != float64(1) {
		t.Errorf("store.flagged = %v, want 1 (the 500 line)", store["flagged"])
	}

	ingestStatus := resp["ingest"].(map[string]interface{})
	if ingestStatus["degraded"] != false {
		t.Errorf("ingest.degraded = %v, want false", ingestStatus["degraded"])
	}
	if ingestStatus["parse_failures"] != float64(0) {
		t.Errorf("ingest.parse_failures = %v, want 0", ingestStatus["parse_failures"])
	}
}

func TestGetStatus_LogUnavailable(t *testing.T) {
	cfg := testConfig("/nonexistent/gateway_access.log")
	_, r := newMonitorRouter(t, cfg)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp := getJSON(w); resp["access_log"] != "unavailable" {
		t.Errorf("access_log = %v, want unavailable", resp["access_log"])
	}
}

func TestGetStatus_CursorFailure(t *testing.T) {
	logPath := writeAccessLog(t)
	mock, r := newMockMonitorRouter(t, testConfig(logPath))
	mock.ExpectQuery("SELECT.*FROM ingest_cursor").WillReturnError(errDB)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/status", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if resp := getJSON(w); resp["error"] != "Failed to load ingest cursor" {
		t.Errorf("error = %v, want cursor failure message", resp["error"])
	}
}

func TestGetStatus_StatsFailure(t *testing.T) {
	logPath := writeAccessLog(t)
	mock, r := newMockMonitorRouter(t, testConfig(logPath))
	mock.ExpectQuery("SELECT.*FROM ingest_cursor").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errDB)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/status", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if resp := getJSON(w); resp["error"] != "Failed to load store stats" {
		t.Errorf("error = %v, want stats failure message", resp["error"])
	}
}

package observability

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func serveHealth(t *testing.T, checker *HealthChecker, path string) (*httptest.ResponseRecorder, HealthStatus) {
	t.Helper()
	router := mux.NewRouter()
	RegisterHealthRoutes(router, checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	return rec, status
}

func TestHealth_Liveness(t *testing.T) {
	rec, status := serveHealth(t, NewHealthChecker(nil, nil, "v1.2.3"), "/health/live")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if status.Version != "v1.2.3" {
		t.Errorf("Expected version v1.2.3, got %s", status.Version)
	}
}

func TestHealth_ReadinessHealthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()
	mock.ExpectPing()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rec, status := serveHealth(t, NewHealthChecker(db, rdb, ""), "/health/ready")
	if rec.Code != http.StatusOK || status.Status != StatusHealthy {
		t.Errorf("Expected healthy 200, got %d %s", rec.Code, status.Status)
	}
	if len(status.Dependencies) != 2 {
		t.Errorf("Expected 2 dependencies, got %d", len(status.Dependencies))
	}
}

func TestHealth_RedisDownIsDegraded(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()

	rec, status := serveHealth(t, NewHealthChecker(nil, rdb, ""), "/health/ready")
	if rec.Code != http.StatusOK {
		t.Errorf("Degraded should still answer 200, got %d", rec.Code)
	}
	if status.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", status.Status)
	}
}

func TestHealth_PostgresDownIsUnhealthy(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create mock db: %v", err)
	}
	defer db.Close()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	rec, status := serveHealth(t, NewHealthChecker(db, nil, ""), "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
	if status.Dependencies["postgres"].Message != "connection refused" {
		t.Errorf("Unexpected postgres status %+v", status.Dependencies["postgres"])
	}
}

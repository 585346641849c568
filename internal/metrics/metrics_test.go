package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mkaminski/kvstore/internal/replication"
	"github.com/mkaminski/kvstore/internal/storage"
)

func TestMetrics_ObservePut(t *testing.T) {
	m := New()

	m.ObservePut(time.Now(), nil)
	m.ObservePut(time.Now(), nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "kvstore_puts_total 2") {
		t.Errorf("expected kvstore_puts_total 2 in output, got:\n%s", body)
	}
}

func TestMetrics_ObserveReadDoesNotCountNotFoundAsError(t *testing.T) {
	m := New()

	m.ObserveRead(time.Now(), storage.ErrKeyNotFound)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, `kvstore_errors_total{op="read"} 1`) {
		t.Errorf("did not expect a read error to be recorded:\n%s", body)
	}
}

func TestMetrics_CollectReplicationTracksHealth(t *testing.T) {
	m := New()

	manager, err := replication.NewManager([]string{"127.0.0.1:7171"})
	if err != nil {
		t.Fatal(err)
	}

	m.CollectReplication(nil, manager)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, `kvstore_replica_healthy{replica="127.0.0.1:7171"} 1`) {
		t.Errorf("expected healthy replica gauge, got:\n%s", body)
	}
}

func TestMetrics_CollectReplicationExposesDroppedCounter(t *testing.T) {
	m := New()

	manager, err := replication.NewManager(nil)
	if err != nil {
		t.Fatal(err)
	}

	m.CollectReplication(nil, manager)
	m.CollectReplication(nil, manager)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "kvstore_replication_dropped_total") {
		t.Error("expected dropped-replication counter series to exist")
	}
}

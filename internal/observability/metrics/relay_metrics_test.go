package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"gorm.io/gorm"
)

func TestClassifyRelayReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: RelayReasonDeadlineExceeded},
		{name: "publish", err: fmt.Errorf("redis: %w", ErrPublish), want: RelayReasonPublish},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: RelayReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: RelayReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: RelayReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: RelayReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyRelayReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestRelayMetricsRecordsBacklogAndErrors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newRelayMetrics(registry, Config{ServiceName: "escrow", Environment: "test"})

	m.ObserveRun(20*time.Millisecond, 7)
	m.IncPublished("payment.released")
	m.IncError(ErrPublish)

	if got := testutil.ToFloat64(m.backlog); got != 7 {
		t.Fatalf("expected backlog 7, got %v", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues(RelayReasonPublish)); got != 1 {
		t.Fatalf("expected 1 publish error, got %v", got)
	}
}

func TestHTTPMiddlewareObservesRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := newHTTPMetrics(registry, Config{})

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var requests *dto.MetricFamily
	for _, family := range families {
		if family.GetName() == "escrow_http_requests_total" {
			requests = family
		}
	}
	if requests == nil || len(requests.GetMetric()) != 1 {
		t.Fatalf("expected one request series")
	}
	labels := map[string]string{}
	for _, pair := range requests.GetMetric()[0].GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	if labels["route"] != "/health" || labels["status_code"] != "200" {
		t.Fatalf("unexpected labels %v", labels)
	}
}

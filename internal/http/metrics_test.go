package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestHTTPMetrics_MetricsMiddleware(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := NewHTTPMetrics(mp.Meter(httpInstrumentationName), zap.NewNop())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/api/v1/patterns/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"id": c.Param("id")})
	})
	e.POST("/api/v1/patterns/:id/runs", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
	})

	for _, r := range []struct{ method, target string }{
		{http.MethodGet, "/health"},
		{http.MethodGet, "/api/v1/patterns/a"},
		{http.MethodGet, "/api/v1/patterns/b"},
		{http.MethodPost, "/api/v1/patterns/missing/runs"},
	} {
		req := httptest.NewRequest(r.method, r.target, nil)
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	foundRequests := false
	foundDuration := false
	foundResponseSize := false

	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "processd.http.requests_total":
				foundRequests = true
				sum, ok := md.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("unexpected data type %T", md.Data)
				}
				byRoute := map[string]int64{}
				statuses := map[int64]bool{}
				for _, dp := range sum.DataPoints {
					route, _ := dp.Attributes.Value(attribute.Key("route"))
					byRoute[route.AsString()] += dp.Value
					status, _ := dp.Attributes.Value(attribute.Key("status"))
					statuses[status.AsInt64()] = true
				}
				if byRoute["/api/v1/patterns/:id"] != 2 {
					t.Errorf("expected 2 requests on the pattern route, got %v", byRoute)
				}
				if byRoute["/health"] != 1 {
					t.Errorf("expected 1 health request, got %v", byRoute)
				}
				if !statuses[http.StatusNotFound] {
					t.Errorf("expected a 404 status from the HTTP error, got %v", statuses)
				}
			case "processd.http.request_duration_seconds":
				foundDuration = true
				if hist, ok := md.Data.(metricdata.Histogram[float64]); ok {
					total := uint64(0)
					for _, dp := range hist.DataPoints {
						total += dp.Count
					}
					if total != 4 {
						t.Errorf("expected 4 duration recordings, got %d", total)
					}
				}
			case "processd.http.response_size_bytes":
				foundResponseSize = true
			}
		}
	}

	if !foundRequests {
		t.Error("requests counter not found")
	}
	if !foundDuration {
		t.Error("duration histogram not found")
	}
	if !foundResponseSize {
		t.Error("response size histogram not found")
	}
}

func TestRouteOf(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/health", "/health"},
		{"/api/v1/patterns/:id/runs", "/api/v1/patterns/:id/runs"},
	}

	for _, tt := range tests {
		if got := routeOf(tt.input); got != tt.expected {
			t.Errorf("routeOf(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

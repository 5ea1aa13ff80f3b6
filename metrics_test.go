package barterchat

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterMetrics(t *testing.T) {
	t.Run("register twice", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		if err := RegisterMetrics(reg); err != nil {
			t.Fatal(err)
		}
		if err := RegisterMetrics(reg); err != nil {
			t.Fatalf("expected second registration to be a no-op, got %v", err)
		}
		families, err := reg.Gather()
		if err != nil {
			t.Fatal(err)
		}
		found := false
		for _, f := range families {
			if f.GetName() == "barterchat_stream_dropped_events_total" {
				found = true
			}
		}
		if !found {
			t.Error("expected stream drop counter in registry")
		}
	})

	t.Run("name conflict", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{
			Name: "barterchat_stream_dropped_events_total",
			Help: "someone else's counter",
		}))
		if err := RegisterMetrics(reg); err == nil {
			t.Fatal("expected conflict error")
		}
	})
}

func TestMetricsHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "barterchat_optimistic_matches_total") {
		t.Errorf("expected package metrics, got %s", body)
	}
}

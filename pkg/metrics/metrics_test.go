package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordCommand(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.RecordCommand("vehicle", "acknowledged", 0, 120*time.Millisecond)
	c.RecordCommand("vehicle", "timed_out", 1, 0)
	c.RecordCommand("vehicle", "acknowledged", 2, 80*time.Millisecond)

	if got := testutil.ToFloat64(c.CommandsTotal.WithLabelValues("vehicle", "acknowledged")); got != 2 {
		t.Fatalf("fpvlinkd_commands_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.CommandRetries.WithLabelValues("vehicle")); got != 2 {
		t.Fatalf("fpvlinkd_command_retries_total = %v, want 2", got)
	}
	if count := histogramSampleCount(t, reg, "fpvlinkd_command_latency_seconds", "vehicle"); count != 2 {
		t.Fatalf("latency sample_count = %d, want 2", count)
	}
}

func TestReplaceGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.SetEffectivePower(map[string]map[string]int{"controller": {"wlan0": 100, "wlan1": 25}})
	c.SetEffectivePower(map[string]map[string]int{"controller": {"wlan0": 200}})
	if got := testutil.ToFloat64(c.EffectivePowerMw.WithLabelValues("controller", "wlan0")); got != 200 {
		t.Fatalf("effective power = %v, want 200", got)
	}
	if n := testutil.CollectAndCount(c.EffectivePowerMw); n != 1 {
		t.Fatalf("expected stale series to be dropped, got %d series", n)
	}

	c.SetAssignable(map[int]int{0: 2, 1: 0})
	if got := testutil.ToFloat64(c.AssignableRadios.WithLabelValues("0")); got != 2 {
		t.Fatalf("assignable = %v, want 2", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.SetPowerModeAuto(true)
	c.TelemetryReceived()
	c.SetSessionState("controller", 2)

	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"fpvlinkd_power_mode_auto 1",
		"fpvlinkd_telemetry_updates_total 1",
		`fpvlinkd_session_state{target="controller"} 2`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordCommand("vehicle", "rejected", 0, time.Second)
	c.SetPowerModeAuto(false)
	c.SetAssignable(nil)
	c.TelemetryReceived()
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	second.TelemetryReceived()
	if got := testutil.ToFloat64(first.TelemetryUpdates); got != 1 {
		t.Fatalf("expected collectors to share series, got %v", got)
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name, target string) uint64 {
	t.Helper()

	families, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if hasLabel(m.GetLabel(), "target", target) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func hasLabel(pairs []*dto.LabelPair, name, value string) bool {
	for _, lp := range pairs {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCoSimCollectorRecordsGaugesAndCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCoSimCollector(reg)
	if err != nil {
		t.Fatalf("NewCoSimCollector: %v", err)
	}

	collector.SimulationTime.Set(12.5)
	collector.BoxTemperature.Set(21.3)
	collector.HeaterTemperature.Set(24.1)
	collector.ControllerTicksTotal.Inc()
	collector.SupervisorEventsTotal.Inc()
	collector.TickCoalescedTotal.Inc()
	collector.PacingUnderrunsTotal.Inc()
	collector.SetpointAdjustmentsTotal.Inc()
	collector.IterationDuration.Observe(0.002)

	if got := testutil.ToFloat64(collector.SimulationTime); got != 12.5 {
		t.Fatalf("cosim_simulation_time_seconds = %v, want 12.5", got)
	}
	if got := testutil.ToFloat64(collector.ControllerTicksTotal); got != 1 {
		t.Fatalf("cosim_controller_ticks_total = %v, want 1", got)
	}
}

func TestCoSimCollectorHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCoSimCollector(reg)
	if err != nil {
		t.Fatalf("NewCoSimCollector: %v", err)
	}
	collector.SimulationTime.Set(5.0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"cosim_simulation_time_seconds",
		"cosim_iteration_duration_seconds",
		"cosim_controller_ticks_total",
		"cosim_supervisor_events_total",
		"cosim_tick_coalesced_total",
		"cosim_pacing_underruns_total",
		"cosim_plant_box_temperature_celsius",
		"cosim_plant_heater_temperature_celsius",
		"cosim_setpoint_adjustments_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestCoSimCollectorToleratesDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCoSimCollector(reg)
	if err != nil {
		t.Fatalf("first NewCoSimCollector: %v", err)
	}
	second, err := NewCoSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewCoSimCollector should tolerate AlreadyRegisteredError: %v", err)
	}
	if first.SimulationTime != second.SimulationTime {
		t.Fatalf("expected second collector to reuse the already-registered gauge")
	}
}

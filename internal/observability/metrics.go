package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CoSimCollector bundles the Prometheus metrics exported by a running
// orchestrator, covering the scheduler loop and the plant/controller/
// supervisor units it steps.
type CoSimCollector struct {
	gatherer prometheus.Gatherer

	IterationDuration        prometheus.Histogram
	SimulationTime           prometheus.Gauge
	ControllerTicksTotal     prometheus.Counter
	SupervisorEventsTotal    prometheus.Counter
	TickCoalescedTotal       prometheus.Counter
	PacingUnderrunsTotal     prometheus.Counter
	BoxTemperature           prometheus.Gauge
	HeaterTemperature        prometheus.Gauge
	SetpointAdjustmentsTotal prometheus.Counter
}

// NewCoSimCollector registers the orchestrator's Prometheus metrics against
// the provided registerer, defaulting to the global registry when nil.
func NewCoSimCollector(reg prometheus.Registerer) (*CoSimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	iterationHist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cosim_iteration_duration_seconds",
		Help:    "Wall-clock duration of one scheduler iteration.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
	})
	iterationHist, err := registerHistogram(reg, iterationHist, "cosim_iteration_duration_seconds")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cosim_simulation_time_seconds",
		Help: "Current simulation time t.",
	}), "cosim_simulation_time_seconds")
	if err != nil {
		return nil, err
	}

	controllerTicks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosim_controller_ticks_total",
		Help: "Cumulative number of controller clock ticks consumed by the scheduler.",
	}), "cosim_controller_ticks_total")
	if err != nil {
		return nil, err
	}

	supervisorEvents, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosim_supervisor_events_total",
		Help: "Cumulative number of iterations in which the supervisor raised event_needed.",
	}), "cosim_supervisor_events_total")
	if err != nil {
		return nil, err
	}

	coalesced, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosim_tick_coalesced_total",
		Help: "Cumulative number of iterations where more than one physical tick coalesced into a single latch read.",
	}), "cosim_tick_coalesced_total")
	if err != nil {
		return nil, err
	}

	underruns, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosim_pacing_underruns_total",
		Help: "Cumulative number of iterations whose wall-clock duration exceeded the step size under real-time pacing.",
	}), "cosim_pacing_underruns_total")
	if err != nil {
		return nil, err
	}

	boxTemp, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cosim_plant_box_temperature_celsius",
		Help: "Current plant box temperature.",
	}), "cosim_plant_box_temperature_celsius")
	if err != nil {
		return nil, err
	}

	heaterTemp, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cosim_plant_heater_temperature_celsius",
		Help: "Current plant heater temperature.",
	}), "cosim_plant_heater_temperature_celsius")
	if err != nil {
		return nil, err
	}

	setpointAdjustments, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cosim_setpoint_adjustments_total",
		Help: "Cumulative number of supervisor-driven setpoint/heating-time perturbations.",
	}), "cosim_setpoint_adjustments_total")
	if err != nil {
		return nil, err
	}

	return &CoSimCollector{
		gatherer:                 gatherer,
		IterationDuration:        iterationHist,
		SimulationTime:           simTime,
		ControllerTicksTotal:     controllerTicks,
		SupervisorEventsTotal:    supervisorEvents,
		TickCoalescedTotal:       coalesced,
		PacingUnderrunsTotal:     underruns,
		BoxTemperature:           boxTemp,
		HeaterTemperature:        heaterTemp,
		SetpointAdjustmentsTotal: setpointAdjustments,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *CoSimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *CoSimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

// Package scheduler implements the hybrid scheduler: the global step loop
// that routes timed and clocked signals between the plant, controller,
// and supervisor units, arbitrates event mode entry between the
// real-time tick source and the supervisor's data-driven events, and
// paces iterations to wall-clock time. Grounded on
// core/simulation_engine.go's tick-loop shape, generalized to the
// three-unit co-simulation topology (spec.md §4.5).
package scheduler

import (
	"context"
	"time"

	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/controller"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/fmi"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/internal/logging"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/internal/observability"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/plant"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/supervisor"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/timectrl"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("hybrid-cosim-orchestrator/scheduler")

// Config holds the recognized scheduler options (spec.md §6).
type Config struct {
	// EndSimulationTime is the upper bound on t; the loop exits when t >= End.
	EndSimulationTime float64
	// StepSize is the communication step Δ.
	StepSize float64
	// RealTimePacing, if true, sleeps to align wall-clock time to
	// simulation time at the end of each iteration.
	RealTimePacing bool
	// ControllerClockInterval is the tick source's period, used as given;
	// the interval registered on the controller's controller_clock is not
	// read.
	ControllerClockInterval time.Duration
}

// Record is one sample emitted to the Sink per iteration, in the exact
// column order of spec.md §6's observer output schema.
type Record struct {
	SimTime                      float64
	SupervisorEvent              bool
	PlantTemperature             float64
	PlantTemperatureHeater       float64
	ControllerHeaterCtrl         bool
	SupervisorTemperatureDesired float64
	SupervisorHeatingTime        float64
}

// Sink receives one Record per scheduler iteration. It must not block the
// scheduler for long and must not feed back into it (spec.md §4.6).
type Sink interface {
	Observe(Record)
}

// Scheduler owns the three units, the tick source, and the sink, and
// drives the master loop described in spec.md §4.5.
type Scheduler struct {
	cfg Config

	plant      *plant.Plant
	controller *controller.Controller
	supervisor *supervisor.Supervisor

	tick *timectrl.TickSource
	sink Sink

	log     logging.Logger
	metrics *observability.CoSimCollector

	t float64
}

// New wires the default connection topology (spec.md §6): plant.T feeds
// controller.box_air_temperature and supervisor.T; plant.T_heater feeds
// supervisor.T_heater; controller.heater_ctrl feeds plant.in_heater_on;
// supervisor.heating_time/temperature_desired feed the controller's
// matching clocked inputs.
func New(cfg Config, p *plant.Plant, c *controller.Controller, s *supervisor.Supervisor, log logging.Logger, metrics *observability.CoSimCollector) *Scheduler {
	if log == nil {
		log = logging.Noop()
	}
	ts := timectrl.NewTickSource(cfg.ControllerClockInterval)
	ts.RealTime = cfg.RealTimePacing
	return &Scheduler{
		cfg:        cfg,
		plant:      p,
		controller: c,
		supervisor: s,
		tick:       ts,
		log:        log,
		metrics:    metrics,
	}
}

// SetSink installs the state observer. Must be called before Run.
func (sch *Scheduler) SetSink(sink Sink) { sch.sink = sink }

// SetRealTime overrides whether the tick source paces itself against
// wall-clock time or is driven synthetically once per iteration.
func (sch *Scheduler) SetRealTime(realTime bool) { sch.tick.RealTime = realTime }

// Run drives the master loop until t reaches EndSimulationTime, an error
// occurs, any unit requests termination, or ctx is cancelled.
func (sch *Scheduler) Run(ctx context.Context) error {
	// Units that exited initialization into EventMode are moved to
	// StepMode before the first step.
	for _, u := range []fmi.Unit{sch.plant, sch.controller, sch.supervisor} {
		if u.Lifecycle() != fmi.StepMode {
			if err := u.EnterStepMode(); err != nil {
				return errors.Wrapf(err, "%s enter step mode", u.Name())
			}
		}
	}

	sch.tick.Start(ctx)
	defer func() {
		if err := sch.tick.Stop(); err != nil {
			sch.log.Error(ctx, "tick source failed to stop cleanly", logging.String("error", err.Error()))
		}
	}()

	for sch.t < sch.cfg.EndSimulationTime {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		terminate, err := sch.iterate(ctx)
		if err != nil {
			return err
		}
		if terminate {
			return nil
		}
	}
	return nil
}

func (sch *Scheduler) iterate(ctx context.Context) (terminate bool, err error) {
	ctx, span := tracer.Start(ctx, "scheduler.iteration")
	defer span.End()
	span.SetAttributes(attribute.Float64("sim_time", sch.t))

	start := time.Now()
	dt := sch.cfg.StepSize

	// 1. Timed routing: plant -> controller/supervisor.
	sch.controller.SetBoxAirTemperature(sch.plant.T())
	sch.supervisor.SetInputs(sch.plant.T(), sch.plant.THeater())

	// 2. Step all units.
	plantResult, err := sch.plant.Step(sch.t, dt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, errors.Wrap(err, "plant step")
	}
	controllerResult, err := sch.controller.Step(sch.t, dt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, errors.Wrap(err, "controller step")
	}
	supervisorResult, err := sch.supervisor.Step(sch.t, dt)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, errors.Wrap(err, "supervisor step")
	}

	if plantResult.Terminate || controllerResult.Terminate || supervisorResult.Terminate {
		terminate = true
	}

	// 3. Event arbitration. When real-time pacing is disabled there is no
	// wall-clock worker generating ticks, so the scheduler substitutes a
	// synthetic tick once per communication step (spec.md §9).
	if !sch.tick.RealTime {
		sch.tick.Tick()
	}
	tick := sch.tick.ReadAndClear()
	if sch.metrics != nil && tick {
		sch.metrics.ControllerTicksTotal.Inc()
	}
	if sch.metrics != nil && supervisorResult.EventNeeded {
		sch.metrics.SupervisorEventsTotal.Inc()
	}

	switch {
	case !tick && !supervisorResult.EventNeeded:
		// No event: branch 1, nothing further to do this iteration.

	case tick && !supervisorResult.EventNeeded:
		if err := sch.controllerOnlyTick(ctx); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return terminate, err
		}

	default:
		if err := sch.mixedOrSupervisorEvent(ctx, tick); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return terminate, err
		}
	}

	// 4. Observe.
	if sch.sink != nil {
		sch.sink.Observe(Record{
			SimTime:                      sch.t,
			SupervisorEvent:              supervisorResult.EventNeeded,
			PlantTemperature:             sch.plant.T(),
			PlantTemperatureHeater:       sch.plant.THeater(),
			ControllerHeaterCtrl:         sch.controller.HeaterOn(),
			SupervisorTemperatureDesired: sch.supervisor.TemperatureDesired(),
			SupervisorHeatingTime:        sch.supervisor.HeatingTime(),
		})
	}

	// 5. Advance.
	sch.t += dt

	if sch.metrics != nil {
		sch.metrics.SimulationTime.Set(sch.t)
		sch.metrics.BoxTemperature.Set(sch.plant.T())
		sch.metrics.HeaterTemperature.Set(sch.plant.THeater())
		sch.metrics.IterationDuration.Observe(time.Since(start).Seconds())
	}

	// 6. Pace.
	if sch.tick.RealTime {
		elapsed := time.Since(start)
		budget := time.Duration(dt * float64(time.Second))
		if elapsed > budget {
			if sch.metrics != nil {
				sch.metrics.PacingUnderrunsTotal.Inc()
			}
			sch.log.Warn(ctx, "pacing underrun",
				logging.String("elapsed", elapsed.String()),
				logging.String("budget", budget.String()))
		} else {
			time.Sleep(budget - elapsed)
		}
	}

	return terminate, nil
}

// controllerOnlyTick is the "controller-only tick" branch, taken when a
// tick arrives without a supervisor event: the tick alone is sufficient,
// the controller's own event_needed flag is irrelevant here because the controller never raises one from
// Step (spec.md §4.5, §9).
func (sch *Scheduler) controllerOnlyTick(ctx context.Context) error {
	if err := sch.controller.EnterEventMode(); err != nil {
		return errors.Wrap(err, "controller enter event mode")
	}
	sch.controller.RaiseClock(controller.ControllerClockRef)

	sch.routeControllerToPlant()

	if _, err := sch.controller.UpdateDiscreteStates(); err != nil {
		return errors.Wrap(err, "controller update discrete states")
	}
	if err := sch.controller.EnterStepMode(); err != nil {
		return errors.Wrap(err, "controller enter step mode")
	}
	return nil
}

// mixedOrSupervisorEvent is the branch entered whenever the supervisor
// raised event_needed during Step, whether or not a controller tick
// coincided with it; both units enter EventMode together and clocked
// routing is gated per-connection on whichever clock is actually raised.
func (sch *Scheduler) mixedOrSupervisorEvent(ctx context.Context, tick bool) error {
	if err := sch.controller.EnterEventMode(); err != nil {
		return errors.Wrap(err, "controller enter event mode")
	}
	if err := sch.supervisor.EnterEventMode(); err != nil {
		return errors.Wrap(err, "supervisor enter event mode")
	}
	if tick {
		sch.controller.RaiseClock(controller.ControllerClockRef)
	}

	if sch.controller.ClockRaised(controller.ControllerClockRef) {
		sch.routeControllerToPlant()
	}
	if sch.supervisor.ClockRaised(supervisor.SupervisorClockRef) {
		if err := sch.routeSupervisorToController(); err != nil {
			return errors.Wrap(err, "route supervisor to controller")
		}
	}

	if _, err := sch.controller.UpdateDiscreteStates(); err != nil {
		return errors.Wrap(err, "controller update discrete states")
	}
	heatingTimeBefore, desiredBefore := sch.supervisor.HeatingTime(), sch.supervisor.TemperatureDesired()
	if _, err := sch.supervisor.UpdateDiscreteStates(); err != nil {
		return errors.Wrap(err, "supervisor update discrete states")
	}
	if sch.metrics != nil && (sch.supervisor.HeatingTime() != heatingTimeBefore || sch.supervisor.TemperatureDesired() != desiredBefore) {
		sch.metrics.SetpointAdjustmentsTotal.Inc()
	}

	if err := sch.controller.EnterStepMode(); err != nil {
		return errors.Wrap(err, "controller enter step mode")
	}
	if err := sch.supervisor.EnterStepMode(); err != nil {
		return errors.Wrap(err, "supervisor enter step mode")
	}
	return nil
}

// routeControllerToPlant propagates the clocked connection
// controller.heater_ctrl -> plant.in_heater_on.
func (sch *Scheduler) routeControllerToPlant() {
	sch.plant.SetHeaterOn(sch.controller.HeaterOn())
}

// routeSupervisorToController propagates the clocked connections
// supervisor.heating_time -> controller.heating_time and
// supervisor.temperature_desired -> controller.temperature_desired.
func (sch *Scheduler) routeSupervisorToController() error {
	vals, err := sch.supervisor.GetValue([]fmi.Reference{supervisor.RefHeatingTime, supervisor.RefTemperatureDesired})
	if err != nil {
		return errors.Wrap(err, "supervisor get value")
	}
	if err := sch.controller.SetValue([]fmi.Reference{controller.RefHeatingTime, controller.RefTemperatureDesired}, vals); err != nil {
		return errors.Wrap(err, "controller set value")
	}
	return nil
}


package scheduler

import (
	"context"
	"testing"

	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/controller"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/fmi"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/plant"
	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/supervisor"
)

type unit interface {
	Instantiate(string) error
	EnterInitializationMode() error
	ExitInitializationMode(bool) error
	Lifecycle() fmi.Lifecycle
}

func newTestUnits(t *testing.T) (*plant.Plant, *controller.Controller, *supervisor.Supervisor) {
	t.Helper()
	p := plant.New()
	c := controller.New()
	s := supervisor.New()

	for _, u := range []unit{p, c, s} {
		if err := u.Instantiate(""); err != nil {
			t.Fatalf("instantiate: %v", err)
		}
		if err := u.EnterInitializationMode(); err != nil {
			t.Fatalf("enter init: %v", err)
		}
		if err := u.ExitInitializationMode(true); err != nil {
			t.Fatalf("exit init: %v", err)
		}
	}
	return p, c, s
}

func newTestScheduler(t *testing.T, endTime, step float64) (*Scheduler, *Recorder) {
	t.Helper()
	p, c, s := newTestUnits(t)
	sch := New(Config{
		EndSimulationTime:       endTime,
		StepSize:                step,
		RealTimePacing:          false,
		ControllerClockInterval: 0,
	}, p, c, s, nil, nil)
	rec := NewRecorder()
	sch.SetSink(rec)
	return sch, rec
}

// TestScheduler_StepMultipleExactDelta is invariant 1: after every
// iteration t_new - t_old is an exact integer multiple of Δ.
func TestScheduler_StepMultipleExactDelta(t *testing.T) {
	sch, rec := newTestScheduler(t, 5.0, 0.5)
	if err := sch.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	records := rec.Records()
	if len(records) != 10 {
		t.Fatalf("expected 10 records, got %d", len(records))
	}
	for i, r := range records {
		want := float64(i) * 0.5
		if diff := r.SimTime - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("record %d: sim_time = %v, want %v", i, r.SimTime, want)
		}
	}
}

// TestScheduler_UnitsEndInStepMode is invariant 2.
func TestScheduler_UnitsEndInStepMode(t *testing.T) {
	p, c, s := newTestUnits(t)
	sch := New(Config{EndSimulationTime: 2.0, StepSize: 0.5}, p, c, s, nil, nil)
	sch.SetSink(NewRecorder())
	if err := sch.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for name, u := range map[string]unit{"plant": p, "controller": c, "supervisor": s} {
		if u.Lifecycle() != fmi.StepMode {
			t.Fatalf("%s: expected StepMode after run, got %v", name, u.Lifecycle())
		}
	}
}

// TestScheduler_ControllerClocksLoweredEveryIteration is the clock half of
// invariant 1/2: every raised clock has been lowered by the end of an
// iteration, checked after the last iteration of a run that forces several
// controller ticks.
func TestScheduler_ControllerClocksLoweredEveryIteration(t *testing.T) {
	p, c, s := newTestUnits(t)
	sch := New(Config{EndSimulationTime: 3.0, StepSize: 0.5}, p, c, s, nil, nil)
	sch.SetSink(NewRecorder())
	sch.tick.RealTime = false // scheduler synthesizes a tick every iteration

	if err := sch.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if c.ClockRaised(controller.ControllerClockRef) {
		t.Fatalf("expected controller_clock lowered at end of run")
	}
	if s.ClockRaised(supervisor.SupervisorClockRef) {
		t.Fatalf("expected supervisor_clock lowered at end of run")
	}
}

// TestScheduler_ControllerOnlyTickLeavesSupervisorUntouched is scenario S6:
// a single tick with no supervisor event advances the controller exactly
// once and leaves the supervisor's own state machine untouched.
func TestScheduler_ControllerOnlyTickLeavesSupervisorUntouched(t *testing.T) {
	p, c, s := newTestUnits(t)
	sch := New(Config{EndSimulationTime: 1.0, StepSize: 0.5}, p, c, s, nil, nil)
	sch.SetSink(NewRecorder())

	stateBefore := s.State()
	achievementsBefore := s.SetpointAchievements()

	sch.tick.Tick()
	if _, err := sch.iterate(context.Background()); err != nil {
		t.Fatalf("iterate: %v", err)
	}

	if s.State() != stateBefore {
		t.Fatalf("expected supervisor state untouched by controller-only tick, got %v -> %v", stateBefore, s.State())
	}
	if s.SetpointAchievements() != achievementsBefore {
		t.Fatalf("expected supervisor achievements untouched, got %d -> %d", achievementsBefore, s.SetpointAchievements())
	}
}

// TestScheduler_SupervisorRaisesSetpointUpdateOverLongRun is scenario S5
// (scaled down for test speed): over enough iterations with a low
// optimization threshold, at least one recorded sample carries a
// supervisor event.
func TestScheduler_SupervisorRaisesSetpointUpdateOverLongRun(t *testing.T) {
	p, c, s := newTestUnits(t)
	if err := s.SetValue([]fmi.Reference{supervisor.RefTriggerOptimizationThreshold}, []fmi.Value{fmi.Float64Value(5.0)}); err != nil {
		t.Fatalf("set trigger_optimization_threshold: %v", err)
	}
	if err := s.SetValue([]fmi.Reference{supervisor.RefWaitTilSupervisingTimer}, []fmi.Value{fmi.Int64Value(5)}); err != nil {
		t.Fatalf("set wait_til_supervising_timer: %v", err)
	}

	sch := New(Config{EndSimulationTime: 500.0, StepSize: 0.5}, p, c, s, nil, nil)
	rec := NewRecorder()
	sch.SetSink(rec)
	sch.tick.RealTime = false

	if err := sch.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	sawEvent := false
	for _, r := range rec.Records() {
		if r.SupervisorEvent {
			sawEvent = true
			break
		}
	}
	if !sawEvent {
		t.Fatalf("expected at least one supervisor event over the run")
	}
}

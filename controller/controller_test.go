package controller

import (
	"testing"

	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/fmi"
)

func newReadyController(t *testing.T) *Controller {
	t.Helper()
	c := New()
	if err := c.Instantiate(""); err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if err := c.EnterInitializationMode(); err != nil {
		t.Fatalf("enter init: %v", err)
	}
	if err := c.ExitInitializationMode(true); err != nil {
		t.Fatalf("exit init: %v", err)
	}
	return c
}

// TestController_NewDefaultsToCooling checks that New() itself (not a
// test fixture that overwrites c.state) starts in Cooling with the timer
// disarmed, matching the Python source's
// self.controller_state = ControllerState.Cooling default. A Waiting
// start with next_action_timer = -1 can never arm: only the Cooling
// predicate evaluates from a disarmed timer.
func TestController_NewDefaultsToCooling(t *testing.T) {
	c := New()
	if c.State() != Cooling {
		t.Fatalf("expected New() to start in Cooling, got %v", c.State())
	}
	if c.nextActionTimer != -1 {
		t.Fatalf("expected New() to start with a disarmed timer, got %v", c.nextActionTimer)
	}
}

// TestController_ColdStartTransitionsToHeating is scenario S3.
func TestController_ColdStartTransitionsToHeating(t *testing.T) {
	c := newReadyController(t)
	c.state = Cooling
	c.boxAirTemperature = 10.0
	c.temperatureDesired = 35.0
	c.lowerBound = 5.0
	c.heatingTime = 20.0

	const tNow, dt = 0.0, 0.5
	if _, err := c.Step(tNow, dt); err != nil {
		t.Fatalf("step: %v", err)
	}
	if err := c.EnterEventMode(); err != nil {
		t.Fatalf("enter event mode: %v", err)
	}
	if _, err := c.UpdateDiscreteStates(); err != nil {
		t.Fatalf("update discrete states: %v", err)
	}

	if c.State() != Heating {
		t.Fatalf("expected Heating, got %v", c.State())
	}
	if !c.HeaterOn() {
		t.Fatalf("expected heater_ctrl = true")
	}
	wantTimer := (tNow + dt) + 20.0
	if c.nextActionTimer != wantTimer {
		t.Fatalf("expected timer = %v, got %v", wantTimer, c.nextActionTimer)
	}
}

// TestController_CachedHeaterOnMatchesState is invariant 3.
func TestController_CachedHeaterOnMatchesState(t *testing.T) {
	cases := []struct {
		from, to State
		setup    func(c *Controller)
	}{
		{Cooling, Heating, func(c *Controller) {
			c.boxAirTemperature = c.temperatureDesired - c.lowerBound - 1
		}},
		{Heating, Waiting, func(c *Controller) {
			c.nextActionTimer = 1
			c.condition = 2
		}},
		{Heating, Cooling, func(c *Controller) {
			c.boxAirTemperature = c.temperatureDesired + 1
		}},
	}
	for _, tc := range cases {
		c := newReadyController(t)
		c.state = tc.from
		tc.setup(c)
		if _, err := c.UpdateDiscreteStates(); err != nil {
			t.Fatalf("update discrete states: %v", err)
		}
		if c.State() != tc.to {
			t.Fatalf("expected transition %v -> %v, got %v", tc.from, tc.to, c.State())
		}
		want := c.State() == Heating
		if c.HeaterOn() != want {
			t.Fatalf("cached_heater_on (%v) does not match state=%v invariant", c.HeaterOn(), c.State())
		}
	}
}

func TestController_ClockLoweredAfterUpdate(t *testing.T) {
	c := newReadyController(t)
	c.RaiseClock(ControllerClockRef)
	if _, err := c.UpdateDiscreteStates(); err != nil {
		t.Fatalf("update discrete states: %v", err)
	}
	if c.ClockRaised(ControllerClockRef) {
		t.Fatalf("expected controller_clock to be lowered after update")
	}
}

func TestController_ClockedVariablesRejectedOutsideEventMode(t *testing.T) {
	c := New()
	_ = c.Instantiate("")
	_ = c.EnterInitializationMode()
	_ = c.ExitInitializationMode(false)

	if err := c.SetValue([]fmi.Reference{RefTemperatureDesired}, []fmi.Value{fmi.Float64Value(40.0)}); err == nil {
		t.Fatalf("expected error setting clocked variable outside event mode")
	}
}

func TestController_SerializeRoundTrip(t *testing.T) {
	c := newReadyController(t)
	c.state = Heating
	c.nextActionTimer = 42.0
	c.cachedHeaterOn = true

	data, err := c.SerializeState()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	restored := New()
	if err := restored.DeserializeState(data); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if restored.State() != c.State() || restored.HeaterOn() != c.HeaterOn() || restored.nextActionTimer != c.nextActionTimer {
		t.Fatalf("restored state mismatch: %+v vs %+v", restored, c)
	}
}

package supervisor

import (
	"testing"
)

// fixedRand always returns the same value, for deterministic perturbation
// assertions that only care about direction/magnitude bounds.
type fixedRand struct{ v float64 }

func (f fixedRand) Float64() float64 { return f.v }

func newReadySupervisor(t *testing.T, rng Rand) *Supervisor {
	t.Helper()
	s := NewWithRand(rng)
	if err := s.Instantiate(""); err != nil {
		t.Fatalf("instantiate: %v", err)
	}
	if err := s.EnterInitializationMode(); err != nil {
		t.Fatalf("enter init: %v", err)
	}
	if err := s.ExitInitializationMode(true); err != nil {
		t.Fatalf("exit init: %v", err)
	}
	return s
}

// TestSupervisor_DerivativeDetectionAndCrossing is scenario S4.
func TestSupervisor_DerivativeDetectionAndCrossing(t *testing.T) {
	s := newReadySupervisor(t, fixedRand{v: 0.5})
	s.desiredTemperatureParameter = 35.0
	// One crossing stays below the perturbation threshold, so the counter
	// is observable before it is reset.
	s.setpointAchievementsParameter = 2

	samples := []float64{30, 31, 32}
	sim := 0.0
	const dt = 0.5
	for _, temp := range samples {
		s.SetInputs(temp, 0)
		if _, err := s.Step(sim, dt); err != nil {
			t.Fatalf("step: %v", err)
		}
		sim += dt
	}
	if !s.derivativePositive {
		t.Fatalf("expected derivative_positive after rising samples 30,31,32")
	}

	s.SetInputs(35.5, 0)
	result, err := s.Step(sim, dt)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !result.EventNeeded {
		t.Fatalf("expected event_needed on setpoint crossing")
	}

	if err := s.EnterEventMode(); err != nil {
		t.Fatalf("enter event mode: %v", err)
	}
	before := s.SetpointAchievements()
	if _, err := s.UpdateDiscreteStates(); err != nil {
		t.Fatalf("update discrete states: %v", err)
	}
	if s.SetpointAchievements() != before+1 {
		t.Fatalf("expected setpoint_achievements to increment on upward crossing, got %d -> %d", before, s.SetpointAchievements())
	}
	if !s.cooldownFlag {
		t.Fatalf("expected cooldown_flag set after upward crossing")
	}
}

// TestSupervisor_AchievementsResetAfterPerturbation is invariant 6.
func TestSupervisor_AchievementsResetAfterPerturbation(t *testing.T) {
	s := newReadySupervisor(t, fixedRand{v: 0.75})
	s.setpointAchievementsParameter = 1
	s.setpointAchievements = 1
	s.desiredTemperatureParameter = 35.0
	before := s.desiredTemperatureParameter

	if _, err := s.UpdateDiscreteStates(); err != nil {
		t.Fatalf("update discrete states: %v", err)
	}

	if s.SetpointAchievements() != 0 {
		t.Fatalf("expected setpoint_achievements reset to 0, got %d", s.SetpointAchievements())
	}
	if s.desiredTemperatureParameter == before {
		t.Fatalf("expected desired_temperature_parameter to be perturbed")
	}
	if s.temperatureDesired != 35.0+(0.75*2-1.0) {
		t.Fatalf("unexpected temperature_desired perturbation: got %v", s.temperatureDesired)
	}
}

func TestSupervisor_WaitingToListeningTransition(t *testing.T) {
	s := newReadySupervisor(t, fixedRand{v: 0.5})
	s.waitTilSupervisingTimer = 2
	s.nextActionTimer = 2

	s.SetInputs(20, 20)
	if _, err := s.Step(0, 0.5); err != nil {
		t.Fatalf("step: %v", err)
	}
	if _, err := s.Step(0.5, 0.5); err != nil {
		t.Fatalf("step: %v", err)
	}
	if s.nextActionTimer != 0 {
		t.Fatalf("expected timer to reach 0, got %d", s.nextActionTimer)
	}

	_ = s.EnterEventMode()
	if _, err := s.UpdateDiscreteStates(); err != nil {
		t.Fatalf("update discrete states: %v", err)
	}
	if s.State() != Listening {
		t.Fatalf("expected transition to Listening, got %v", s.State())
	}
	if s.nextActionTimer != -1 {
		t.Fatalf("expected timer disarmed at -1, got %d", s.nextActionTimer)
	}
}

func TestSupervisor_ListeningPerturbsHeatingTimeWithinBounds(t *testing.T) {
	s := newReadySupervisor(t, fixedRand{v: 1.0})
	s.state = Listening
	s.nextActionTimer = -1
	s.maxTHeater = 60.0
	s.heaterUnderusedThreshold = 5.0
	s.triggerOptimizationThreshold = 1.0
	s.desiredTemperatureParameter = 35.0
	s.SetInputs(10.0, 20.0) // residual 25 > 1, heater_safe, underused 40 > 5
	heatingTimeBefore := s.heatingTime

	if _, err := s.UpdateDiscreteStates(); err != nil {
		t.Fatalf("update discrete states: %v", err)
	}

	if s.State() != Waiting {
		t.Fatalf("expected transition back to Waiting, got %v", s.State())
	}
	if s.nextActionTimer != s.waitTilSupervisingTimer {
		t.Fatalf("expected timer reset to wait_til_supervising_timer, got %d", s.nextActionTimer)
	}
	diff := s.heatingTime - heatingTimeBefore
	if diff < -0.05-1e-9 || diff > 0.05+1e-9 {
		t.Fatalf("expected heating_time perturbation within +-0.05, got %v", diff)
	}
}

func TestSupervisor_ClockLoweredAfterUpdate(t *testing.T) {
	s := newReadySupervisor(t, fixedRand{v: 0.5})
	s.RaiseClock(SupervisorClockRef)
	if _, err := s.UpdateDiscreteStates(); err != nil {
		t.Fatalf("update discrete states: %v", err)
	}
	if s.ClockRaised(SupervisorClockRef) {
		t.Fatalf("expected supervisor_clock lowered after update")
	}
}

func TestSupervisor_SerializeRoundTrip(t *testing.T) {
	s := newReadySupervisor(t, fixedRand{v: 0.5})
	s.state = Listening
	s.setpointAchievements = 3
	s.previousT = 12.0

	data, err := s.SerializeState()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	restored := NewWithRand(fixedRand{v: 0.5})
	if err := restored.DeserializeState(data); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if restored.State() != s.State() || restored.SetpointAchievements() != s.SetpointAchievements() {
		t.Fatalf("restored state mismatch")
	}
}

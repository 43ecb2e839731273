// Package supervisor implements the two-state Waiting/Listening monitor
// that detects setpoint crossings and perturbs the heating time and
// desired temperature, grounded on
// original_source/original_FMUs/supervisor/resources/model.py (the
// clocked variant: see SPEC_FULL.md's coverage note on the two
// supervisor sources in the retrieval pack).
package supervisor

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"

	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/fmi"
	"github.com/pkg/errors"
)

// State is the supervisor's discrete mode.
type State int

const (
	Waiting State = iota
	Listening
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Listening:
		return "listening"
	default:
		return "unknown"
	}
}

// Value references, mirroring the Python source's reference_to_attribute /
// clocked_variables / tunable_parameters tables.
const (
	RefT          fmi.Reference = 0
	RefTHeater    fmi.Reference = 1
	RefLowerBound fmi.Reference = 3
	RefHeatingGap fmi.Reference = 5

	RefTemperatureDesired   fmi.Reference = 2
	RefHeatingTime          fmi.Reference = 4
	RefSetpointAchievements fmi.Reference = 8

	RefDesiredTemperatureParameter   fmi.Reference = 100
	RefMaxTHeater                    fmi.Reference = 101
	RefTriggerOptimizationThreshold  fmi.Reference = 102
	RefHeaterUnderusedThreshold      fmi.Reference = 103
	RefWaitTilSupervisingTimer       fmi.Reference = 104
	RefSetpointAchievementsParameter fmi.Reference = 105

	SupervisorClockRef fmi.Reference = 1001
)

// Rand is the minimal randomness surface the supervisor needs to perturb
// heating_time and the desired temperature; *math/rand.Rand satisfies it,
// and tests inject a seeded instance for determinism.
type Rand interface {
	Float64() float64
}

// Supervisor is the Waiting/Listening setpoint-adaptation monitor.
type Supervisor struct {
	fmi.Base

	rng Rand

	// Parameters (outputs passed through to the controller, not owned by it).
	lowerBound float64
	heatingGap float64

	// Tunable parameters.
	desiredTemperatureParameter   float64
	maxTHeater                    float64
	triggerOptimizationThreshold  float64
	heaterUnderusedThreshold      float64
	waitTilSupervisingTimer       int64
	setpointAchievementsParameter int64

	// Inputs.
	t       float64
	tHeater float64

	// Clocked outputs.
	temperatureDesired   float64
	heatingTime          float64
	setpointAchievements int64

	// Discrete state.
	state              State
	nextActionTimer    int64
	previousT          float64
	previousPreviousT  float64
	derivativePositive bool
	cooldownFlag       bool
}

// New constructs a Supervisor with the Python source's default parameters,
// using a math/rand generator seeded with 1 for perturbations.
func New() *Supervisor {
	return NewWithRand(rand.New(rand.NewSource(1)))
}

// NewWithRand constructs a Supervisor using the given randomness source,
// for deterministic tests and reproducible simulation runs (spec.md §9:
// perturbation must be injectable, not hard-wired to the global RNG).
func NewWithRand(rng Rand) *Supervisor {
	s := &Supervisor{
		rng:                           rng,
		lowerBound:                    5.0,
		heatingGap:                    20.0,
		desiredTemperatureParameter:   35.0,
		maxTHeater:                    60.0,
		triggerOptimizationThreshold:  10.0,
		heaterUnderusedThreshold:      10.0,
		waitTilSupervisingTimer:       100,
		setpointAchievementsParameter: 1,
		temperatureDesired:            35.0,
		heatingTime:                   20.0,
		state:                         Waiting,
	}
	s.nextActionTimer = s.waitTilSupervisingTimer
	s.Base = fmi.NewBase("supervisor")
	s.RegisterClock(SupervisorClockRef, 0)
	s.registerVariables()
	return s
}

func (s *Supervisor) registerVariables() {
	s.RegisterVariable(RefT, "T", fmi.Continuous,
		func() fmi.Value { return fmi.Float64Value(s.t) },
		func(v fmi.Value) { s.t = v.Float64 })
	s.RegisterVariable(RefTHeater, "T_heater", fmi.Continuous,
		func() fmi.Value { return fmi.Float64Value(s.tHeater) },
		func(v fmi.Value) { s.tHeater = v.Float64 })
	s.RegisterVariable(RefLowerBound, "lower_bound", fmi.Continuous,
		func() fmi.Value { return fmi.Float64Value(s.lowerBound) },
		func(v fmi.Value) { s.lowerBound = v.Float64 })
	s.RegisterVariable(RefHeatingGap, "heating_gap", fmi.Continuous,
		func() fmi.Value { return fmi.Float64Value(s.heatingGap) },
		func(v fmi.Value) { s.heatingGap = v.Float64 })

	s.RegisterVariable(RefTemperatureDesired, "temperature_desired", fmi.Clocked,
		func() fmi.Value { return fmi.Float64Value(s.temperatureDesired) },
		func(v fmi.Value) { s.temperatureDesired = v.Float64 })
	s.RegisterVariable(RefHeatingTime, "heating_time", fmi.Clocked,
		func() fmi.Value { return fmi.Float64Value(s.heatingTime) },
		func(v fmi.Value) { s.heatingTime = v.Float64 })
	s.RegisterVariable(RefSetpointAchievements, "setpoint_achievements", fmi.Clocked,
		func() fmi.Value { return fmi.Int64Value(s.setpointAchievements) },
		func(v fmi.Value) { s.setpointAchievements = v.Int64 })

	s.RegisterVariable(RefDesiredTemperatureParameter, "desired_temperature_parameter", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(s.desiredTemperatureParameter) },
		func(v fmi.Value) { s.desiredTemperatureParameter = v.Float64 })
	s.RegisterVariable(RefMaxTHeater, "max_t_heater", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(s.maxTHeater) },
		func(v fmi.Value) { s.maxTHeater = v.Float64 })
	s.RegisterVariable(RefTriggerOptimizationThreshold, "trigger_optimization_threshold", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(s.triggerOptimizationThreshold) },
		func(v fmi.Value) { s.triggerOptimizationThreshold = v.Float64 })
	s.RegisterVariable(RefHeaterUnderusedThreshold, "heater_underused_threshold", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(s.heaterUnderusedThreshold) },
		func(v fmi.Value) { s.heaterUnderusedThreshold = v.Float64 })
	s.RegisterVariable(RefWaitTilSupervisingTimer, "wait_til_supervising_timer", fmi.TunableParameter,
		func() fmi.Value { return fmi.Int64Value(s.waitTilSupervisingTimer) },
		func(v fmi.Value) { s.waitTilSupervisingTimer = v.Int64 })
	s.RegisterVariable(RefSetpointAchievementsParameter, "setpoint_achievements_parameter", fmi.TunableParameter,
		func() fmi.Value { return fmi.Int64Value(s.setpointAchievementsParameter) },
		func(v fmi.Value) { s.setpointAchievementsParameter = v.Int64 })
}

// State returns the supervisor's current discrete mode.
func (s *Supervisor) State() State { return s.state }

// SetpointAchievements returns the current achievement counter.
func (s *Supervisor) SetpointAchievements() int64 { return s.setpointAchievements }

// TemperatureDesired returns the current held value of the clocked
// temperature_desired output directly, bypassing the FMI event-mode gate.
// The reference scenario reads its clocked outputs unconditionally every
// iteration for logging, so observers are given the same unrestricted path.
func (s *Supervisor) TemperatureDesired() float64 { return s.temperatureDesired }

// HeatingTime returns the current held value of the clocked heating_time
// output directly, bypassing the FMI event-mode gate, for the same reason
// as TemperatureDesired.
func (s *Supervisor) HeatingTime() float64 { return s.heatingTime }

// SetInputs drives the supervisor's timed inputs directly, for use by the
// scheduler's timed routing step (plant.T/T_heater -> supervisor.T/T_heater).
func (s *Supervisor) SetInputs(t, tHeater float64) {
	s.t = t
	s.tHeater = tHeater
}

// Step evaluates the Waiting/Listening gate predicates, the 3-sample
// derivative filter, and the setpoint-crossing detector, raising
// supervisor_clock when any condition marks event_needed. It never
// performs a state transition itself; that happens in
// UpdateDiscreteStates.
func (s *Supervisor) Step(t, dt float64) (fmi.StepResult, error) {
	eventNeeded := false

	if s.state == Waiting {
		if s.nextActionTimer > 0 {
			s.nextActionTimer--
		}
		if s.nextActionTimer == 0 {
			eventNeeded = true
		}
	}

	if s.state == Listening {
		if s.listeningGateOpen() {
			eventNeeded = true
		}
	}

	if s.t > s.previousT && s.previousT > s.previousPreviousT {
		s.derivativePositive = true
	} else if s.t < s.previousT && s.previousT < s.previousPreviousT {
		s.derivativePositive = false
	}

	if s.t >= s.desiredTemperatureParameter && s.derivativePositive && !s.cooldownFlag {
		eventNeeded = true
	} else if s.t < s.desiredTemperatureParameter && !s.derivativePositive && s.cooldownFlag {
		eventNeeded = true
	}

	if s.setpointAchievements >= s.setpointAchievementsParameter {
		eventNeeded = true
	}

	if eventNeeded {
		s.RaiseClock(SupervisorClockRef)
	}

	s.previousPreviousT = s.previousT
	s.previousT = s.t

	return fmi.StepResult{
		EventNeeded:        eventNeeded,
		Terminate:          false,
		EarlyReturn:        false,
		LastSuccessfulTime: t + dt,
	}, nil
}

func (s *Supervisor) listeningGateOpen() bool {
	heaterSafe := s.tHeater < s.maxTHeater
	heaterUnderused := (s.maxTHeater - s.tHeater) > s.heaterUnderusedThreshold
	residualAboveThreshold := math.Abs(s.t-s.desiredTemperatureParameter) > s.triggerOptimizationThreshold
	return heaterSafe && heaterUnderused && residualAboveThreshold
}

// UpdateDiscreteStates performs the Waiting<->Listening transition,
// perturbs heating_time on exiting Listening, applies the setpoint
// crossing counter and cooldown flag, perturbs the desired temperature
// once enough crossings have accumulated, and lowers supervisor_clock.
func (s *Supervisor) UpdateDiscreteStates() (fmi.UpdateResult, error) {
	if s.state == Waiting && s.nextActionTimer == 0 {
		s.state = Listening
		s.nextActionTimer = -1
	} else if s.state == Listening && s.listeningGateOpen() {
		s.heatingTime += s.rng.Float64()*0.1 - 0.05
		s.state = Waiting
		s.nextActionTimer = s.waitTilSupervisingTimer
	}

	if s.t >= s.desiredTemperatureParameter && s.derivativePositive && !s.cooldownFlag {
		s.setpointAchievements++
		s.cooldownFlag = true
	} else if s.t < s.desiredTemperatureParameter && !s.derivativePositive && s.cooldownFlag {
		s.cooldownFlag = false
	}

	if s.setpointAchievements >= s.setpointAchievementsParameter {
		perturbation := s.rng.Float64()*2 - 1.0
		s.desiredTemperatureParameter += perturbation
		s.temperatureDesired += perturbation
		s.setpointAchievements = 0
	}

	s.LowerClock(SupervisorClockRef)

	return fmi.UpdateResult{
		NextEventTimeDefined: true,
		NextEventTime:        0.0,
	}, nil
}

type supervisorState struct {
	Version                       int
	LowerBound                    float64
	HeatingGap                    float64
	DesiredTemperatureParameter   float64
	MaxTHeater                    float64
	TriggerOptimizationThreshold  float64
	HeaterUnderusedThreshold      float64
	WaitTilSupervisingTimer       int64
	SetpointAchievementsParameter int64
	T                             float64
	THeater                       float64
	TemperatureDesired            float64
	HeatingTime                   float64
	SetpointAchievements          int64
	State                         State
	NextActionTimer               int64
	PreviousT                     float64
	PreviousPreviousT             float64
	DerivativePositive            bool
	CooldownFlag                  bool
}

func (s *Supervisor) snapshot() supervisorState {
	return supervisorState{
		Version:                       1,
		LowerBound:                    s.lowerBound,
		HeatingGap:                    s.heatingGap,
		DesiredTemperatureParameter:   s.desiredTemperatureParameter,
		MaxTHeater:                    s.maxTHeater,
		TriggerOptimizationThreshold:  s.triggerOptimizationThreshold,
		HeaterUnderusedThreshold:      s.heaterUnderusedThreshold,
		WaitTilSupervisingTimer:       s.waitTilSupervisingTimer,
		SetpointAchievementsParameter: s.setpointAchievementsParameter,
		T:                             s.t,
		THeater:                       s.tHeater,
		TemperatureDesired:            s.temperatureDesired,
		HeatingTime:                   s.heatingTime,
		SetpointAchievements:          s.setpointAchievements,
		State:                         s.state,
		NextActionTimer:               s.nextActionTimer,
		PreviousT:                     s.previousT,
		PreviousPreviousT:             s.previousPreviousT,
		DerivativePositive:            s.derivativePositive,
		CooldownFlag:                  s.cooldownFlag,
	}
}

func (s *Supervisor) restore(v supervisorState) {
	s.lowerBound = v.LowerBound
	s.heatingGap = v.HeatingGap
	s.desiredTemperatureParameter = v.DesiredTemperatureParameter
	s.maxTHeater = v.MaxTHeater
	s.triggerOptimizationThreshold = v.TriggerOptimizationThreshold
	s.heaterUnderusedThreshold = v.HeaterUnderusedThreshold
	s.waitTilSupervisingTimer = v.WaitTilSupervisingTimer
	s.setpointAchievementsParameter = v.SetpointAchievementsParameter
	s.t = v.T
	s.tHeater = v.THeater
	s.temperatureDesired = v.TemperatureDesired
	s.heatingTime = v.HeatingTime
	s.setpointAchievements = v.SetpointAchievements
	s.state = v.State
	s.nextActionTimer = v.NextActionTimer
	s.previousT = v.PreviousT
	s.previousPreviousT = v.PreviousPreviousT
	s.derivativePositive = v.DerivativePositive
	s.cooldownFlag = v.CooldownFlag
}

// SerializeState snapshots the supervisor's parameters and discrete
// state. The injected Rand is not part of the snapshot: restoring a
// supervisor resumes its perturbation sequence from whatever generator
// the restoring process supplies.
func (s *Supervisor) SerializeState() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.snapshot()); err != nil {
		return nil, errors.Wrap(err, "supervisor: serialize state")
	}
	return buf.Bytes(), nil
}

// DeserializeState restores a snapshot produced by SerializeState.
func (s *Supervisor) DeserializeState(data []byte) error {
	var v supervisorState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return errors.Wrap(err, "supervisor: deserialize state")
	}
	s.restore(v)
	return nil
}

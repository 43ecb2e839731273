// Package controller implements the three-state thermostat (Cooling,
// Heating, Waiting), grounded on original_source/controller/resources/model.py.
package controller

import (
	"bytes"
	"encoding/gob"

	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/fmi"
	"github.com/pkg/errors"
)

// State is the controller's discrete mode.
type State int

const (
	Cooling State = iota
	Heating
	Waiting
)

func (s State) String() string {
	switch s {
	case Cooling:
		return "cooling"
	case Heating:
		return "heating"
	case Waiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// Value references, mirroring controller/resources/model.py's
// reference_to_attribute / tunable_parameters / clocked_variables tables.
const (
	RefBoxAirTemperature  fmi.Reference = 0
	RefHeaterCtrl         fmi.Reference = 1
	RefTemperatureDesired fmi.Reference = 2
	RefHeatingTime        fmi.Reference = 3

	RefLowerBound fmi.Reference = 101
	RefHeatingGap fmi.Reference = 103

	// ControllerClockRef is the externally-raised clock: the real-time tick
	// source raises it, the scheduler gates EventMode entry on it.
	ControllerClockRef fmi.Reference = 1001
	// SupervisorClockRef is the clock paired with the controller's clocked
	// inputs (temperature_desired, heating_time). It is registered so it
	// can be queried through GetClock/SetClock; the controller itself never
	// raises, reads, or lowers it.
	SupervisorClockRef fmi.Reference = 1002
)

const defaultControllerClockInterval = 1.0

// Controller is the Cooling/Heating/Waiting thermostat state machine.
type Controller struct {
	fmi.Base

	lowerBound float64
	heatingGap float64

	temperatureDesired float64
	heatingTime        float64

	boxAirTemperature float64
	cachedHeaterOn    bool

	state           State
	nextActionTimer float64 // -1 = disarmed
	condition       float64
}

// New constructs a Controller with the Python source's default parameters
// (lower_bound=5.0, heating_gap=20.0, temperature_desired=35.0, heating_time=20.0),
// starting in Cooling with the timer disarmed.
func New() *Controller {
	c := &Controller{
		lowerBound:         5.0,
		heatingGap:         20.0,
		temperatureDesired: 35.0,
		heatingTime:        20.0,
		state:              Cooling,
		nextActionTimer:    -1,
	}
	c.Base = fmi.NewBase("controller")
	c.RegisterClock(ControllerClockRef, defaultControllerClockInterval)
	c.RegisterClock(SupervisorClockRef, defaultControllerClockInterval)
	c.registerVariables()
	return c
}

func (c *Controller) registerVariables() {
	c.RegisterVariable(RefBoxAirTemperature, "box_air_temperature", fmi.Continuous,
		func() fmi.Value { return fmi.Float64Value(c.boxAirTemperature) },
		func(v fmi.Value) { c.boxAirTemperature = v.Float64 })
	c.RegisterVariable(RefHeaterCtrl, "heater_ctrl", fmi.Continuous,
		func() fmi.Value { return fmi.BoolValue(c.cachedHeaterOn) },
		func(v fmi.Value) { c.cachedHeaterOn = v.Bool })
	c.RegisterVariable(RefTemperatureDesired, "temperature_desired", fmi.Clocked,
		func() fmi.Value { return fmi.Float64Value(c.temperatureDesired) },
		func(v fmi.Value) { c.temperatureDesired = v.Float64 })
	c.RegisterVariable(RefHeatingTime, "heating_time", fmi.Clocked,
		func() fmi.Value { return fmi.Float64Value(c.heatingTime) },
		func(v fmi.Value) { c.heatingTime = v.Float64 })

	c.RegisterVariable(RefLowerBound, "lower_bound", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(c.lowerBound) },
		func(v fmi.Value) { c.lowerBound = v.Float64 })
	c.RegisterVariable(RefHeatingGap, "heating_gap", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(c.heatingGap) },
		func(v fmi.Value) { c.heatingGap = v.Float64 })
}

// State returns the controller's current discrete mode.
func (c *Controller) State() State { return c.state }

// HeaterOn returns cached_heater_on, the heater_ctrl output that the
// scheduler's clocked routing feeds to the plant.
func (c *Controller) HeaterOn() bool { return c.cachedHeaterOn }

// SetBoxAirTemperature drives the controller's timed input directly, for
// use by the scheduler's timed routing step (plant.T -> controller.box_air_temperature).
func (c *Controller) SetBoxAirTemperature(t float64) { c.boxAirTemperature = t }

// Step sets condition := t+dt and advances next_action_timer per the
// current state's predicate, without performing the state transition
// itself (that happens in UpdateDiscreteStates, after EventMode is
// entered on a controller clock tick). The controller never marks
// event_needed from Step: the Heating->Cooling edge (T > desired) is
// discovered here only as a timer disarm (-1), and raised to the scheduler
// solely via the externally-driven controller_clock (spec.md §9).
func (c *Controller) Step(t, dt float64) (fmi.StepResult, error) {
	c.condition = t + dt

	switch c.state {
	case Cooling:
		if c.boxAirTemperature <= c.temperatureDesired-c.lowerBound {
			c.nextActionTimer = c.condition + c.heatingTime
		}
	case Heating:
		if c.nextActionTimer > 0 && c.nextActionTimer <= c.condition {
			c.nextActionTimer = c.condition + c.heatingGap
		} else if c.boxAirTemperature > c.temperatureDesired {
			c.nextActionTimer = -1
		}
	case Waiting:
		if c.nextActionTimer > 0 && c.nextActionTimer <= c.condition {
			if c.boxAirTemperature <= c.temperatureDesired {
				c.nextActionTimer = c.condition + c.heatingTime
			} else {
				c.nextActionTimer = -1
			}
		}
	}

	return fmi.StepResult{
		EventNeeded:        false,
		Terminate:          false,
		EarlyReturn:        false,
		LastSuccessfulTime: c.condition,
	}, nil
}

// UpdateDiscreteStates performs the Cooling/Heating/Waiting transition
// using the same predicates Step used to arm the timer, sets
// cached_heater_on to match the new state, and lowers controller_clock.
func (c *Controller) UpdateDiscreteStates() (fmi.UpdateResult, error) {
	switch c.state {
	case Cooling:
		if c.boxAirTemperature <= c.temperatureDesired-c.lowerBound {
			c.state = Heating
			c.cachedHeaterOn = true
		}
	case Heating:
		if c.nextActionTimer > 0 && c.nextActionTimer <= c.condition {
			c.state = Waiting
			c.cachedHeaterOn = false
		} else if c.boxAirTemperature > c.temperatureDesired {
			c.state = Cooling
			c.cachedHeaterOn = false
		}
	case Waiting:
		if c.nextActionTimer > 0 && c.nextActionTimer <= c.condition {
			if c.boxAirTemperature <= c.temperatureDesired {
				c.state = Heating
				c.cachedHeaterOn = true
			} else {
				c.state = Cooling
				c.cachedHeaterOn = false
			}
		}
	}

	c.LowerClock(ControllerClockRef)

	return fmi.UpdateResult{
		NextEventTimeDefined: false,
	}, nil
}

type controllerState struct {
	Version            int
	LowerBound         float64
	HeatingGap         float64
	TemperatureDesired float64
	HeatingTime        float64
	BoxAirTemperature  float64
	CachedHeaterOn     bool
	State              State
	NextActionTimer    float64
	Condition          float64
}

func (c *Controller) snapshot() controllerState {
	return controllerState{
		Version:            1,
		LowerBound:         c.lowerBound,
		HeatingGap:         c.heatingGap,
		TemperatureDesired: c.temperatureDesired,
		HeatingTime:        c.heatingTime,
		BoxAirTemperature:  c.boxAirTemperature,
		CachedHeaterOn:     c.cachedHeaterOn,
		State:              c.state,
		NextActionTimer:    c.nextActionTimer,
		Condition:          c.condition,
	}
}

func (c *Controller) restore(s controllerState) {
	c.lowerBound = s.LowerBound
	c.heatingGap = s.HeatingGap
	c.temperatureDesired = s.TemperatureDesired
	c.heatingTime = s.HeatingTime
	c.boxAirTemperature = s.BoxAirTemperature
	c.cachedHeaterOn = s.CachedHeaterOn
	c.state = s.State
	c.nextActionTimer = s.NextActionTimer
	c.condition = s.Condition
}

// SerializeState snapshots the controller's parameters and discrete state.
func (c *Controller) SerializeState() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c.snapshot()); err != nil {
		return nil, errors.Wrap(err, "controller: serialize state")
	}
	return buf.Bytes(), nil
}

// DeserializeState restores a snapshot produced by SerializeState.
func (c *Controller) DeserializeState(data []byte) error {
	var s controllerState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "controller: deserialize state")
	}
	c.restore(s)
	return nil
}

// Package plant implements the continuous-time box/heater ODE integrated
// by classical RK4, grounded on original_source/plant/resources/model.py.
package plant

import (
	"bytes"
	"encoding/gob"

	"github.com/INTO-CPS-Association/hybrid-cosim-orchestrator/fmi"
	"github.com/pkg/errors"
)

// Value references, mirroring the Python source's reference_to_attribute /
// parameters / tunable_parameters dictionaries exactly (vrs_plant in
// co-simulation_scenario.py).
const (
	RefInHeaterOn Reference = 0
	RefT          Reference = 1
	RefTHeater    Reference = 2

	RefInitialBoxTemperature  Reference = 10
	RefInitialHeatTemperature Reference = 11
	RefInitialRoomTemperature Reference = 12

	RefCAir    Reference = 100
	RefGBox    Reference = 101
	RefCHeater Reference = 102
	RefGHeater Reference = 103
	RefVHeater Reference = 104
	RefIHeater Reference = 105
)

// Reference is a local alias so the constants above read naturally;
// plant has no clocked variables (it never enters EventMode).
type Reference = fmi.Reference

// Plant is the FourParameterIncubatorPlant model: a coupled two-state ODE
// (box temperature T, heater temperature T_heater) driven by a boolean
// heater input, integrated with classical RK4.
type Plant struct {
	fmi.Base

	// Tunable parameters.
	cAir    float64
	gBox    float64
	cHeater float64
	gHeater float64
	vHeater float64
	iHeater float64

	// Parameters (InitializationMode-only).
	initialBoxTemperature  float64
	initialHeatTemperature float64
	initialRoomTemperature float64

	// Input.
	inHeaterOn bool

	// Outputs / continuous state.
	t       float64
	tHeater float64
}

// New constructs a Plant with the Python source's default parameters.
func New() *Plant {
	p := &Plant{
		cAir:                   267.55929458,
		gBox:                   0.5763498,
		cHeater:                329.25376821,
		gHeater:                1.67053237,
		vHeater:                12.15579391,
		iHeater:                1.53551347,
		initialBoxTemperature:  21.0,
		initialHeatTemperature: 21.0,
		initialRoomTemperature: 21.0,
	}
	p.Base = fmi.NewBase("plant")
	p.t = p.initialBoxTemperature
	p.tHeater = p.initialHeatTemperature
	p.registerVariables()
	return p
}

func (p *Plant) registerVariables() {
	p.RegisterVariable(RefInHeaterOn, "in_heater_on", fmi.Continuous,
		func() fmi.Value { return fmi.BoolValue(p.inHeaterOn) },
		func(v fmi.Value) { p.inHeaterOn = v.Bool })
	p.RegisterVariable(RefT, "T", fmi.Continuous,
		func() fmi.Value { return fmi.Float64Value(p.t) },
		func(v fmi.Value) { p.t = v.Float64 })
	p.RegisterVariable(RefTHeater, "T_heater", fmi.Continuous,
		func() fmi.Value { return fmi.Float64Value(p.tHeater) },
		func(v fmi.Value) { p.tHeater = v.Float64 })

	p.RegisterVariable(RefInitialBoxTemperature, "initial_box_temperature", fmi.Parameter,
		func() fmi.Value { return fmi.Float64Value(p.initialBoxTemperature) },
		func(v fmi.Value) { p.initialBoxTemperature = v.Float64 })
	p.RegisterVariable(RefInitialHeatTemperature, "initial_heat_temperature", fmi.Parameter,
		func() fmi.Value { return fmi.Float64Value(p.initialHeatTemperature) },
		func(v fmi.Value) { p.initialHeatTemperature = v.Float64 })
	p.RegisterVariable(RefInitialRoomTemperature, "initial_room_temperature", fmi.Parameter,
		func() fmi.Value { return fmi.Float64Value(p.initialRoomTemperature) },
		func(v fmi.Value) { p.initialRoomTemperature = v.Float64 })

	p.RegisterVariable(RefCAir, "C_air", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(p.cAir) },
		func(v fmi.Value) { p.cAir = v.Float64 })
	p.RegisterVariable(RefGBox, "G_box", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(p.gBox) },
		func(v fmi.Value) { p.gBox = v.Float64 })
	p.RegisterVariable(RefCHeater, "C_heater", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(p.cHeater) },
		func(v fmi.Value) { p.cHeater = v.Float64 })
	p.RegisterVariable(RefGHeater, "G_heater", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(p.gHeater) },
		func(v fmi.Value) { p.gHeater = v.Float64 })
	p.RegisterVariable(RefVHeater, "V_heater", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(p.vHeater) },
		func(v fmi.Value) { p.vHeater = v.Float64 })
	p.RegisterVariable(RefIHeater, "I_heater", fmi.TunableParameter,
		func() fmi.Value { return fmi.Float64Value(p.iHeater) },
		func(v fmi.Value) { p.iHeater = v.Float64 })
}

// T returns the current box temperature.
func (p *Plant) T() float64 { return p.t }

// THeater returns the current heater temperature.
func (p *Plant) THeater() float64 { return p.tHeater }

// SetHeaterOn drives the plant's boolean heater input directly, for use by
// the scheduler's clocked routing step (controller.heater_ctrl -> plant.in_heater_on).
func (p *Plant) SetHeaterOn(on bool) { p.inHeaterOn = on }

// Step integrates the ODE over [t, t+dt] with classical RK4.
//
// The derivative functions are evaluated against total power, not
// temperature: der_T(t, y) = y / C_air with y held at the power computed
// once at step entry. This is not a standard RK4 formulation (the
// derivative of a state should be a function of that state), but it
// faithfully reproduces the Python source's fmi3DoStep, which computes
// total_power_box/total_power_heater once and feeds the same power value
// into every RK4 stage. See SPEC_FULL.md §4.1 / spec.md §9.
func (p *Plant) Step(t, dt float64) (fmi.StepResult, error) {
	powerIn := 0.0
	if p.inHeaterOn {
		powerIn = p.vHeater * p.iHeater
	}
	powerOutBox := p.gBox * (p.t - p.initialRoomTemperature)
	powerTransfer := p.gHeater * (p.tHeater - p.t)

	totalPowerBox := powerTransfer - powerOutBox
	totalPowerHeater := powerIn - powerTransfer

	derT := func(y float64) float64 { return y / p.cAir }
	derTHeater := func(y float64) float64 { return y / p.cHeater }

	k1T := derT(totalPowerBox)
	k2T := derT(totalPowerBox + dt*(k1T/2))
	k3T := derT(totalPowerBox + dt*(k2T/2))
	k4T := derT(totalPowerBox + dt*k3T)
	p.t += dt * (k1T + 2*k2T + 2*k3T + k4T) / 6

	k1H := derTHeater(totalPowerHeater)
	k2H := derTHeater(totalPowerHeater + dt*(k1H/2))
	k3H := derTHeater(totalPowerHeater + dt*(k2H/2))
	k4H := derTHeater(totalPowerHeater + dt*k3H)
	p.tHeater += dt * (k1H + 2*k2H + 2*k3H + k4H) / 6

	return fmi.StepResult{
		EventNeeded:        false,
		Terminate:          false,
		EarlyReturn:        false,
		LastSuccessfulTime: t + dt,
	}, nil
}

// UpdateDiscreteStates is a no-op: the plant is continuous-only and never
// enters EventMode (spec.md §4.1, invariant "EventMode is never entered
// for the plant").
func (p *Plant) UpdateDiscreteStates() (fmi.UpdateResult, error) {
	return fmi.UpdateResult{
		NextEventTimeDefined: true,
		NextEventTime:        1.0,
	}, nil
}

// plantState is the versioned snapshot serialized by SerializeState,
// standing in for the Python source's pickle.dumps(tuple(...)).
type plantState struct {
	Version                int
	CAir                   float64
	GBox                   float64
	CHeater                float64
	GHeater                float64
	VHeater                float64
	IHeater                float64
	InitialBoxTemperature  float64
	InitialHeatTemperature float64
	InitialRoomTemperature float64
	InHeaterOn             bool
	T                      float64
	THeater                float64
}

func (p *Plant) snapshot() plantState {
	return plantState{
		Version:                1,
		CAir:                   p.cAir,
		GBox:                   p.gBox,
		CHeater:                p.cHeater,
		GHeater:                p.gHeater,
		VHeater:                p.vHeater,
		IHeater:                p.iHeater,
		InitialBoxTemperature:  p.initialBoxTemperature,
		InitialHeatTemperature: p.initialHeatTemperature,
		InitialRoomTemperature: p.initialRoomTemperature,
		InHeaterOn:             p.inHeaterOn,
		T:                      p.t,
		THeater:                p.tHeater,
	}
}

func (p *Plant) restore(s plantState) {
	p.cAir = s.CAir
	p.gBox = s.GBox
	p.cHeater = s.CHeater
	p.gHeater = s.GHeater
	p.vHeater = s.VHeater
	p.iHeater = s.IHeater
	p.initialBoxTemperature = s.InitialBoxTemperature
	p.initialHeatTemperature = s.InitialHeatTemperature
	p.initialRoomTemperature = s.InitialRoomTemperature
	p.inHeaterOn = s.InHeaterOn
	p.t = s.T
	p.tHeater = s.THeater
}

// SerializeState snapshots the plant's parameters and continuous state,
// the Go analogue of the Python source's pickle.dumps(tuple(...)) used by
// fmi3SerializeFmuState.
func (p *Plant) SerializeState() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(p.snapshot()); err != nil {
		return nil, errors.Wrap(err, "plant: serialize state")
	}
	return buf.Bytes(), nil
}

// DeserializeState restores a snapshot produced by SerializeState.
func (p *Plant) DeserializeState(data []byte) error {
	var s plantState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "plant: deserialize state")
	}
	p.restore(s)
	return nil
}

package fmi

import (
	"fmt"

	"github.com/google/uuid"
)

// variableDescriptor is one entry of a unit's reference table: the
// Python source's reference_to_attribute / parameters / tunable_parameters
// / clocked_variables dictionaries collapsed into a single dispatch table
// keyed by Reference, with Go closures standing in for getattr/setattr.
type variableDescriptor struct {
	name string
	kind VariableKind
	get  func() Value
	set  func(Value)
}

// clockDescriptor mirrors a clocked variable's paired boolean latch plus
// its FMI3 "interval decimal" (tick period), read by the real-time tick
// source for the controller's clock.
type clockDescriptor struct {
	value    bool
	interval float64
}

// Base is embedded by Plant, Controller, and Supervisor. It owns the
// unit's identity, lifecycle, and variable registry, and implements the
// mode-gated generic get/set dispatch so each concrete unit only needs to
// call RegisterVariable/RegisterClock once per field instead of
// implementing a dozen typed accessors (Design Note §9).
type Base struct {
	name               string
	instantiationToken string
	lifecycle          Lifecycle
	eventModeUsed      bool

	vars   map[Reference]*variableDescriptor
	clocks map[Reference]*clockDescriptor
}

// NewBase constructs a Base for the given unit name. Call RegisterVariable
// and RegisterClock from the concrete unit's constructor before use.
func NewBase(name string) Base {
	return Base{
		name:      name,
		lifecycle: Instantiated,
		vars:      make(map[Reference]*variableDescriptor),
		clocks:    make(map[Reference]*clockDescriptor),
	}
}

func (b *Base) Name() string         { return b.name }
func (b *Base) Lifecycle() Lifecycle { return b.lifecycle }

// RegisterVariable wires a value reference to a typed getter/setter pair
// with the access-control classification that governs it.
func (b *Base) RegisterVariable(ref Reference, name string, kind VariableKind, get func() Value, set func(Value)) {
	b.vars[ref] = &variableDescriptor{name: name, kind: kind, get: get, set: set}
}

// RegisterClock declares a clocked boolean latch plus its default tick
// interval (read via GetIntervalDecimal, e.g. by the real-time tick
// source for controller_clock).
func (b *Base) RegisterClock(ref Reference, defaultInterval float64) {
	b.clocks[ref] = &clockDescriptor{interval: defaultInterval}
}

func (b *Base) Instantiate(instantiationToken string) error {
	if instantiationToken == "" {
		instantiationToken = uuid.NewString()
	}
	b.instantiationToken = instantiationToken
	b.lifecycle = Instantiated
	return nil
}

func (b *Base) EnterInitializationMode() error {
	b.lifecycle = InitializationMode
	return nil
}

func (b *Base) ExitInitializationMode(eventModeUsed bool) error {
	b.eventModeUsed = eventModeUsed
	if eventModeUsed {
		b.lifecycle = EventMode
	} else {
		b.lifecycle = StepMode
	}
	return nil
}

func (b *Base) EnterEventMode() error {
	b.lifecycle = EventMode
	return nil
}

func (b *Base) EnterStepMode() error {
	b.lifecycle = StepMode
	return nil
}

func (b *Base) Terminate() error {
	b.lifecycle = Terminated
	return nil
}

func (b *Base) FreeInstance() {}

// GetValue reads the given references, enforcing that clocked variables
// are only readable in EventMode or InitializationMode (mirrors the
// Python source's _get_value).
func (b *Base) GetValue(refs []Reference) ([]Value, error) {
	values := make([]Value, 0, len(refs))
	for _, r := range refs {
		d, ok := b.vars[r]
		if !ok {
			return nil, NewStatusError(StatusError, b.name, "unknown value reference %d", r)
		}
		if d.kind == Clocked && !(b.lifecycle == EventMode || b.lifecycle == InitializationMode) {
			return nil, NewStatusError(StatusError, b.name,
				"clocked variable %q read outside EventMode/InitializationMode (in %s)", d.name, b.lifecycle)
		}
		values = append(values, d.get())
	}
	return values, nil
}

// SetValue writes the given references, enforcing the same mode rules as
// the Python source's _set_value: clocked and tunable-parameter variables
// require EventMode or InitializationMode; plain parameters require
// InitializationMode; continuous variables are writable in any mode.
func (b *Base) SetValue(refs []Reference, values []Value) error {
	if len(refs) != len(values) {
		return NewStatusError(StatusError, b.name, "reference/value length mismatch: %d vs %d", len(refs), len(values))
	}
	for i, r := range refs {
		d, ok := b.vars[r]
		if !ok {
			return NewStatusError(StatusError, b.name, "unknown value reference %d", r)
		}
		switch d.kind {
		case Clocked, TunableParameter:
			if !(b.lifecycle == EventMode || b.lifecycle == InitializationMode) {
				return NewStatusError(StatusError, b.name,
					"%s variable %q written outside EventMode/InitializationMode (in %s)", d.kind, d.name, b.lifecycle)
			}
		case Parameter:
			if b.lifecycle != InitializationMode {
				return NewStatusError(StatusError, b.name,
					"parameter %q written outside InitializationMode (in %s)", d.name, b.lifecycle)
			}
		}
		d.set(values[i])
	}
	return nil
}

func (b *Base) GetClock(refs []Reference) ([]bool, error) {
	out := make([]bool, 0, len(refs))
	for _, r := range refs {
		c, ok := b.clocks[r]
		if !ok {
			return nil, NewStatusError(StatusError, b.name, "unknown clock reference %d", r)
		}
		out = append(out, c.value)
	}
	return out, nil
}

func (b *Base) SetClock(refs []Reference, values []bool) error {
	if len(refs) != len(values) {
		return NewStatusError(StatusError, b.name, "clock reference/value length mismatch")
	}
	for i, r := range refs {
		c, ok := b.clocks[r]
		if !ok {
			return NewStatusError(StatusError, b.name, "unknown clock reference %d", r)
		}
		c.value = values[i]
	}
	return nil
}

func (b *Base) GetIntervalDecimal(refs []Reference) ([]float64, error) {
	out := make([]float64, 0, len(refs))
	for _, r := range refs {
		c, ok := b.clocks[r]
		if !ok {
			return nil, NewStatusError(StatusError, b.name, "unknown clock reference %d", r)
		}
		out = append(out, c.interval)
	}
	return out, nil
}

func (b *Base) SetIntervalDecimal(refs []Reference, intervals []float64) error {
	if len(refs) != len(intervals) {
		return NewStatusError(StatusError, b.name, "clock reference/interval length mismatch")
	}
	for i, r := range refs {
		c, ok := b.clocks[r]
		if !ok {
			return NewStatusError(StatusError, b.name, "unknown clock reference %d", r)
		}
		c.interval = intervals[i]
	}
	return nil
}

// ClockRaised reports whether the given clock is currently latched, for
// use by the scheduler's gated clocked-routing step. Unlike GetClock it
// returns no error: an unknown reference reads as lowered.
func (b *Base) ClockRaised(ref Reference) bool {
	c, ok := b.clocks[ref]
	return ok && c.value
}

// RaiseClock sets a clock latch directly; used by units that raise their
// own clock from Step (the supervisor raising supervisor_clock).
func (b *Base) RaiseClock(ref Reference) {
	if c, ok := b.clocks[ref]; ok {
		c.value = true
	}
}

// LowerClock clears a clock latch; used by UpdateDiscreteStates.
func (b *Base) LowerClock(ref Reference) {
	if c, ok := b.clocks[ref]; ok {
		c.value = false
	}
}

func (b *Base) String() string {
	return fmt.Sprintf("%s[%s]", b.name, b.lifecycle)
}

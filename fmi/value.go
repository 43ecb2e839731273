package fmi

import "fmt"

// Reference is an opaque value-reference id, matching the FMI3 notion of a
// per-variable integer handle (the Python source's vrs_plant/vrs_controller
// dictionaries keyed model variable names to exactly this kind of id).
type Reference uint32

// ValueKind tags the payload carried by a Value. A single tagged union
// replaces the dozen duplicated fmi3GetFloat32/fmi3GetBoolean/... accessors
// of the FMI3 source with one typed get/set pair (Design Note §9).
type ValueKind int

const (
	KindFloat64 ValueKind = iota
	KindBool
	KindInt64
)

// Value is a small tagged union over the primitive types this system's
// units actually exchange: continuous temperatures and parameters
// (float64), the heater/clock booleans, and the supervisor's integer
// countdown timer and achievement counter.
type Value struct {
	Kind    ValueKind
	Float64 float64
	Bool    bool
	Int64   int64
}

func Float64Value(f float64) Value { return Value{Kind: KindFloat64, Float64: f} }
func BoolValue(b bool) Value       { return Value{Kind: KindBool, Bool: b} }
func Int64Value(i int64) Value     { return Value{Kind: KindInt64, Int64: i} }

func (v Value) String() string {
	switch v.Kind {
	case KindFloat64:
		return fmt.Sprintf("%g", v.Float64)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindInt64:
		return fmt.Sprintf("%d", v.Int64)
	default:
		return "<invalid value>"
	}
}

// VariableKind classifies a registered variable the way the Python source's
// per-unit dictionaries do: which mode may read/write it.
type VariableKind int

const (
	// Continuous variables are readable/writable in any mode (plant's T,
	// controller's box_air_temperature, ...).
	Continuous VariableKind = iota
	// Parameter variables are settable only in InitializationMode.
	Parameter
	// TunableParameter variables are settable in EventMode or
	// InitializationMode.
	TunableParameter
	// Clocked variables are readable/writable only in EventMode or
	// InitializationMode, and are paired with a boolean clock latch.
	Clocked
)

func (k VariableKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Parameter:
		return "parameter"
	case TunableParameter:
		return "tunable_parameter"
	case Clocked:
		return "clocked"
	default:
		return "unknown"
	}
}

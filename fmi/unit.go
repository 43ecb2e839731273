package fmi

// StepResult is returned by Step, mirroring fmi3DoStep's tuple return.
type StepResult struct {
	EventNeeded        bool
	Terminate          bool
	EarlyReturn        bool
	LastSuccessfulTime float64
}

// UpdateResult is returned by UpdateDiscreteStates, mirroring
// fmi3UpdateDiscreteStates's tuple return.
type UpdateResult struct {
	NeedsUpdate          bool
	Terminate            bool
	NominalsChanged      bool
	ValuesChanged        bool
	NextEventTimeDefined bool
	NextEventTime        float64
}

// Unit is the capability set the scheduler needs from the plant,
// controller, and supervisor models (Design Note §9: "the scheduler only
// needs the capability set", not a closed tagged variant over concrete
// types).
type Unit interface {
	// Name identifies the unit for logs, metrics, and connection routing
	// ("plant", "controller", "supervisor").
	Name() string

	// Lifecycle reports the unit's current FMI-like mode.
	Lifecycle() Lifecycle

	// Instantiate assigns the unit its immutable instantiation token and
	// moves it out of the zero value into the Instantiated state.
	Instantiate(instantiationToken string) error

	EnterInitializationMode() error
	// ExitInitializationMode moves the unit to EventMode when
	// eventModeUsed is true, otherwise to StepMode.
	ExitInitializationMode(eventModeUsed bool) error
	EnterEventMode() error
	EnterStepMode() error

	// Step advances the unit over [t, t+dt]. Legal only in StepMode.
	Step(t, dt float64) (StepResult, error)

	// UpdateDiscreteStates performs zero-duration discrete updates.
	// Legal only in EventMode.
	UpdateDiscreteStates() (UpdateResult, error)

	GetValue(refs []Reference) ([]Value, error)
	SetValue(refs []Reference, values []Value) error

	GetClock(refs []Reference) ([]bool, error)
	SetClock(refs []Reference, values []bool) error

	GetIntervalDecimal(refs []Reference) ([]float64, error)
	SetIntervalDecimal(refs []Reference, intervals []float64) error

	SerializeState() ([]byte, error)
	DeserializeState(data []byte) error

	Terminate() error
	FreeInstance()
}

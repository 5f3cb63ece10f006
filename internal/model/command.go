package model

import (
	"fmt"
	"strconv"
)

// Kind identifies one of the recognized command categories.
type Kind string

const (
	KindScene Kind = "scene"
	KindSolar Kind = "solar"
	KindAlarm Kind = "alarm"
	KindWater Kind = "water"
	KindFree  Kind = "free"
)

// SolarMode is the direction of a solar battery command.
type SolarMode string

const (
	SolarCharge    SolarMode = "charge"
	SolarDischarge SolarMode = "discharge"
)

// DefaultHoldMinutes is used when a water command carries no duration.
const DefaultHoldMinutes = 8

// SceneReport is the scene name that runs the report handler.
const SceneReport = "report"

// Command is a single command extracted from a message subject. The set
// of implementations is closed: Scene, Solar, Alarm, Water and Free.
type Command interface {
	Kind() Kind

	// Args returns the positional arguments passed to the handler.
	Args() []string

	// Noop reports whether the command must not invoke any handler.
	Noop() bool

	fmt.Stringer
	isCommand()
}

// Scene activates a named scene. The name "report" selects the report
// handler; "void" and "" do nothing.
type Scene struct {
	Name string
}

func (Scene) Kind() Kind { return KindScene }

func (s Scene) Args() []string {
	if s.IsReport() {
		return nil
	}
	return []string{s.Name}
}

func (s Scene) Noop() bool { return s.Name == "" || s.Name == "void" }

// IsReport reports whether the scene runs the report handler.
func (s Scene) IsReport() bool { return s.Name == SceneReport }

func (s Scene) String() string { return fmt.Sprintf("scene(%s)", s.Name) }

func (Scene) isCommand() {}

// Solar charges or discharges the battery at Value.
type Solar struct {
	Mode  SolarMode
	Value int
}

func (Solar) Kind() Kind { return KindSolar }

func (s Solar) Args() []string { return []string{string(s.Mode), strconv.Itoa(s.Value)} }

func (Solar) Noop() bool { return false }

func (s Solar) String() string { return fmt.Sprintf("solar(%s, %d)", s.Mode, s.Value) }

func (Solar) isCommand() {}

// Alarm sets the alarm to Time, formatted HH:MM.
type Alarm struct {
	Time string
}

func (Alarm) Kind() Kind { return KindAlarm }

func (a Alarm) Args() []string { return []string{a.Time} }

func (Alarm) Noop() bool { return false }

func (a Alarm) String() string { return fmt.Sprintf("alarm(%s)", a.Time) }

func (Alarm) isCommand() {}

// Water opens the water valve for HoldMinutes.
type Water struct {
	HoldMinutes int
}

func (Water) Kind() Kind { return KindWater }

func (w Water) Args() []string { return []string{strconv.Itoa(w.HoldMinutes)} }

func (Water) Noop() bool { return false }

func (w Water) String() string { return fmt.Sprintf("water(%d)", w.HoldMinutes) }

func (Water) isCommand() {}

// Free marks Date as free. Date is the free-form remainder of the
// subject; an empty Date does nothing.
type Free struct {
	Date string
}

func (Free) Kind() Kind { return KindFree }

func (f Free) Args() []string { return []string{f.Date} }

func (f Free) Noop() bool { return f.Date == "" }

func (f Free) String() string { return fmt.Sprintf("free(%s)", f.Date) }

func (Free) isCommand() {}

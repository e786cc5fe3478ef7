// Package risk maps a tool's risk level to the approval it needs before dispatch.
//
// Invariants:
// - Levels 1-2 are auto-approved.
// - Level 3 requires an explicit caller confirmation.
// - Levels 4-5 require an elevated approval; a plain confirmation is not enough.
//
// The package only decides. Collecting the confirmation or elevated approval
// from a user is left to the caller.
package risk

import (
	"fmt"
)

// Level is the ordinal risk of running a tool.
type Level int

const (
	Low      Level = 1
	Moderate Level = 2
	Elevated Level = 3
	High     Level = 4
	Critical Level = 5
)

// AllLevels returns every valid level in ascending order.
func AllLevels() []Level {
	return []Level{Low, Moderate, Elevated, High, Critical}
}

// ParseLevel converts a raw catalog value into a Level.
func ParseLevel(n int) (Level, error) {
	l := Level(n)
	if !l.Valid() {
		return 0, fmt.Errorf("risk level %d out of range [1,5]", n)
	}
	return l, nil
}

// Valid reports whether l is one of the five defined levels.
func (l Level) Valid() bool {
	return l >= Low && l <= Critical
}

func (l Level) String() string {
	switch l {
	case Low:
		return "low"
	case Moderate:
		return "moderate"
	case Elevated:
		return "elevated"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return fmt.Sprintf("invalid(%d)", int(l))
	}
}

// Decision is the approval requirement for a level.
type Decision string

const (
	AutoApprove             Decision = "auto_approve"
	RequireConfirmation     Decision = "require_confirmation"
	RequireElevatedApproval Decision = "require_elevated_approval"
)

// Classify returns the approval requirement for a level.
// Invalid levels are treated as Critical.
func Classify(l Level) Decision {
	switch l {
	case Low, Moderate:
		return AutoApprove
	case Elevated:
		return RequireConfirmation
	case High, Critical:
		return RequireElevatedApproval
	default:
		return RequireElevatedApproval
	}
}

// Approval carries what the caller has already obtained for this call.
type Approval struct {
	Confirmed bool `json:"confirmed"`
	Elevated  bool `json:"elevated"`
}

// Satisfies reports whether the approval meets decision d.
func (a Approval) Satisfies(d Decision) bool {
	switch d {
	case AutoApprove:
		return true
	case RequireConfirmation:
		return a.Confirmed || a.Elevated
	case RequireElevatedApproval:
		return a.Elevated
	default:
		return false
	}
}

// ApprovalRequiredError reports that a call was stopped before dispatch
// because it lacks the approval its risk level demands.
type ApprovalRequiredError struct {
	Level    Level
	Decision Decision
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("risk level %d (%s) requires %s", int(e.Level), e.Level, e.Decision)
}

// Check returns an *ApprovalRequiredError when approval does not satisfy level.
func Check(l Level, approval Approval) error {
	d := Classify(l)
	if approval.Satisfies(d) {
		return nil
	}
	return &ApprovalRequiredError{Level: l, Decision: d}
}

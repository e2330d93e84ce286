package enums

import "fmt"

// ActionType identifies a paid action inside a checkout batch.
type ActionType string

const (
	ActionWrite   ActionType = "write"
	ActionRedact  ActionType = "redact"
	ActionUncover ActionType = "uncover"
)

var validActionTypes = []ActionType{
	ActionWrite,
	ActionRedact,
	ActionUncover,
}

// String implements fmt.Stringer.
func (a ActionType) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ActionType.
func (a ActionType) IsValid() bool {
	for _, candidate := range validActionTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// TargetsWord reports whether the action operates on an existing word.
func (a ActionType) TargetsWord() bool {
	return a == ActionRedact || a == ActionUncover
}

// ParseActionType converts raw input into an ActionType.
func ParseActionType(value string) (ActionType, error) {
	for _, candidate := range validActionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid action type %q", value)
}

// ActionOutcome records how reconciliation resolved a single action.
type ActionOutcome string

const (
	ActionOutcomeSucceeded ActionOutcome = "succeeded"
	ActionOutcomeFailed    ActionOutcome = "failed"
	ActionOutcomeIgnored   ActionOutcome = "ignored"
)

// String implements fmt.Stringer.
func (o ActionOutcome) String() string {
	return string(o)
}

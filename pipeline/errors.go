package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed wraps every stage failure. Presentation shows a neutral
	// "no data" badge for it.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrStale is returned when a newer selection overtook this load.
	// The result has been discarded.
	ErrStale = errors.New("stale result discarded")

	// ErrInvalidStatus is returned for an unknown booking status filter.
	ErrInvalidStatus = errors.New("invalid booking status")

	// ErrNoSelection is returned by Refresh before any Select.
	ErrNoSelection = errors.New("no agent selected")

	// ErrAgentRequired is returned when a load names no agent.
	ErrAgentRequired = errors.New("agent id required")

	// ErrAgentNotFound is returned by sources for an unknown agent.
	ErrAgentNotFound = errors.New("agent not found")
)

// Stage names one fetch step.
type Stage string

const (
	StageAgents   Stage = "agents"
	StageBookings Stage = "bookings"
	StageTriggers Stage = "triggers"
	StageLogs     Stage = "logs"
)

// StageError reports which stage failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Stage, e.Err)
}

// Unwrap exposes both ErrFetchFailed and the cause to errors.Is.
func (e *StageError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// IsStale reports whether err means the result was overtaken.
func IsStale(err error) bool {
	return errors.Is(err, ErrStale)
}

// IsFetchFailure reports whether err came from an upstream stage.
func IsFetchFailure(err error) bool {
	return errors.Is(err, ErrFetchFailed)
}

// FailedStage returns the failing stage of err, or "" if none.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

package workflow

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrActivityUnreachable   = errors.New("activity unreachable")
	ErrInvalidResponse       = errors.New("invalid step response")
	ErrMalformedActivityList = errors.New("malformed activity list")
	ErrDuplicateActivityName = errors.New("duplicate activity name")
	ErrCycleDetected         = errors.New("cycle detected")
	ErrDuplicateResult       = errors.New("duplicate aggregate write")
	ErrInvalidTransition     = errors.New("invalid node state transition")
)

// StepError attaches the activity it concerns to one of the sentinel kinds.
type StepError struct {
	Kind     error
	Activity string
	Msg      string
}

func (e *StepError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Activity != "" && e.Msg != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind.Error(), e.Activity, e.Msg)
	case e.Activity != "":
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Activity)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
	default:
		return e.Kind.Error()
	}
}

func (e *StepError) Unwrap() error { return e.Kind }

func Errorf(kind error, activity string, format string, args ...any) error {
	return &StepError{Kind: kind, Activity: activity, Msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err aborts a whole traversal rather than a single node.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCycleDetected) ||
		errors.Is(err, ErrDuplicateResult) ||
		errors.Is(err, ErrInvalidTransition)
}

// ErrorCode maps an error to a stable code for JSON bodies and ledger rows.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrActivityUnreachable):
		return "activity_unreachable"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, ErrMalformedActivityList):
		return "malformed_activity_list"
	case errors.Is(err, ErrDuplicateActivityName):
		return "duplicate_activity_name"
	case errors.Is(err, ErrCycleDetected):
		return "cycle_detected"
	case errors.Is(err, ErrDuplicateResult):
		return "duplicate_result"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	default:
		return "internal_error"
	}
}

package fleet

import "errors"

var (
	ErrResourceBusy       = errors.New("resource busy")
	ErrInsufficientCharge = errors.New("insufficient charge")
	ErrSlotUnavailable    = errors.New("no charging slot available")
	ErrTaskNotFound       = errors.New("task not found")
	ErrInvalidOperation   = errors.New("invalid operation")
)

// Outcome is the result of a robot-level operation.
//
// Busy robots and flat batteries are routine while scheduling, so they are
// reported as values. Err() converts a non-OK outcome into the matching
// sentinel for callers that want an error.
type Outcome int

const (
	OK Outcome = iota
	ResourceBusy
	InsufficientCharge
	SlotUnavailable
	TaskNotFound
	InvalidOperation
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case ResourceBusy:
		return "resource_busy"
	case InsufficientCharge:
		return "insufficient_charge"
	case SlotUnavailable:
		return "slot_unavailable"
	case TaskNotFound:
		return "task_not_found"
	case InvalidOperation:
		return "invalid_operation"
	default:
		return "unknown"
	}
}

func (o Outcome) Err() error {
	switch o {
	case OK:
		return nil
	case ResourceBusy:
		return ErrResourceBusy
	case InsufficientCharge:
		return ErrInsufficientCharge
	case SlotUnavailable:
		return ErrSlotUnavailable
	case TaskNotFound:
		return ErrTaskNotFound
	default:
		return ErrInvalidOperation
	}
}

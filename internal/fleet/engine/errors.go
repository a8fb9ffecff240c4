package engine

import "errors"

var (
	ErrStopped        = errors.New("scheduler stopped")
	ErrDuplicateRobot = errors.New("robot already registered")
	ErrUnknownRobot   = errors.New("unknown robot")
	ErrTaskNotQueued  = errors.New("task is not in QUEUED status")
	ErrNotStranded    = errors.New("robot is not stranded")
)

package fleet

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

type Priority int

// Priority is informational: dispatch is strictly in submission order.
const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityLow:
		return "LOW"
	default:
		return "MEDIUM"
	}
}

// Kind decides what happens to the carried item when a task completes.
type Kind int

const (
	KindFetch Kind = iota
	KindReturn
)

func (k Kind) String() string {
	if k == KindReturn {
		return "return"
	}
	return "fetch"
}

type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var validTaskTransitions = map[Status]map[Status]bool{
	StatusQueued:  {StatusRunning: true, StatusCancelled: true},
	StatusRunning: {StatusCompleted: true, StatusCancelled: true},
}

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// Item is the single object a robot can carry during a task.
type Item interface {
	ItemID() string
	// BeginTransit is called once the robot has picked the item up.
	BeginTransit(robotID string)
	// FinishTransit settles the item when the task completes.
	FinishTransit(kind Kind)
	// CancelTransit restores the item to its pre-task available state.
	CancelTransit()
	// Abandon undoes task creation for a task that was never queued.
	Abandon()
}

// TaskSpec carries the creation-time parameters of a Task.
type TaskSpec struct {
	ID              string
	Name            string
	Priority        Priority
	Kind            Kind
	Duration        time.Duration
	BatteryRequired float64
	Item            Item
}

// Task is immutable after creation except for its status, which only the
// execution path advances.
type Task struct {
	id              string
	name            string
	priority        Priority
	kind            Kind
	duration        time.Duration
	batteryRequired float64
	item            Item
	createdAt       time.Time

	mu         sync.Mutex
	status     Status
	robotID    string
	reason     string
	startedAt  time.Time
	finishedAt time.Time
}

func NewTask(spec TaskSpec) (*Task, error) {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return nil, errors.New("task id is required")
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = id
	}
	if spec.Duration < 0 {
		return nil, fmt.Errorf("task %s: duration must be >= 0", id)
	}
	if spec.BatteryRequired < 0 || spec.BatteryRequired > FullCharge {
		return nil, fmt.Errorf("task %s: battery requirement %.1f out of range", id, spec.BatteryRequired)
	}
	return &Task{
		id:              id,
		name:            name,
		priority:        spec.Priority,
		kind:            spec.Kind,
		duration:        spec.Duration,
		batteryRequired: spec.BatteryRequired,
		item:            spec.Item,
		createdAt:       time.Now(),
		status:          StatusQueued,
	}, nil
}

func (t *Task) ID() string               { return t.id }
func (t *Task) Name() string             { return t.name }
func (t *Task) Priority() Priority       { return t.priority }
func (t *Task) Kind() Kind               { return t.kind }
func (t *Task) Duration() time.Duration  { return t.duration }
func (t *Task) BatteryRequired() float64 { return t.batteryRequired }
func (t *Task) Item() Item               { return t.item }
func (t *Task) CreatedAt() time.Time     { return t.createdAt }

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Info is a copy of the task's mutable fields.
type Info struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Priority        string    `json:"priority"`
	Kind            string    `json:"kind"`
	Status          Status    `json:"status"`
	RobotID         string    `json:"robot_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Duration        string    `json:"duration"`
	BatteryRequired float64   `json:"battery_required"`
	CreatedAt       time.Time `json:"created_at"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	FinishedAt      time.Time `json:"finished_at,omitzero"`
}

func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Info{
		ID:              t.id,
		Name:            t.name,
		Priority:        t.priority.String(),
		Kind:            t.kind.String(),
		Status:          t.status,
		RobotID:         t.robotID,
		Reason:          t.reason,
		Duration:        t.duration.String(),
		BatteryRequired: t.batteryRequired,
		CreatedAt:       t.createdAt,
		StartedAt:       t.startedAt,
		FinishedAt:      t.finishedAt,
	}
}

// Start moves the task to RUNNING on robotID.
func (t *Task) Start(robotID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(StatusRunning); err != nil {
		return err
	}
	t.robotID = robotID
	t.startedAt = time.Now()
	return nil
}

func (t *Task) Complete() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	t.finishedAt = time.Now()
	return nil
}

// Cancel moves the task to CANCELLED, recording why.
func (t *Task) Cancel(reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.transitionLocked(StatusCancelled); err != nil {
		return err
	}
	t.reason = reason
	t.finishedAt = time.Now()
	return nil
}

func (t *Task) transitionLocked(to Status) error {
	from := t.status
	if from.Terminal() {
		return fmt.Errorf("task %s: cannot transition from terminal status %q", t.id, from)
	}
	if !validTaskTransitions[from][to] {
		return fmt.Errorf("task %s: invalid transition %q -> %q", t.id, from, to)
	}
	t.status = to
	return nil
}

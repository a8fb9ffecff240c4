package fleet

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

const (
	FullCharge              = 100.0
	DefaultBatteryThreshold = 15.0
)

type RobotState int

const (
	RobotIdle RobotState = iota
	RobotExecuting
	RobotCharging
)

func (s RobotState) String() string {
	switch s {
	case RobotExecuting:
		return "executing"
	case RobotCharging:
		return "charging"
	default:
		return "idle"
	}
}

// Robot is a mobile unit that executes tasks and recharges at stations.
//
// Scheduling decisions about a robot are made by the engine under its own
// lock; the robot's mutex only protects its fields so snapshots can read
// battery levels while a task or charge cycle is mutating them. It is never
// held while calling into anything else.
type Robot struct {
	id string

	mu        sync.Mutex
	battery   float64
	threshold float64
	docked    bool
	carried   Item
	taskID    string
}

// NewRobot creates a fully charged robot. threshold <= 0 selects the default.
func NewRobot(id string, threshold float64) (*Robot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("robot id is required")
	}
	if threshold <= 0 {
		threshold = DefaultBatteryThreshold
	}
	if threshold > FullCharge {
		return nil, fmt.Errorf("robot %s: threshold %.1f exceeds %.0f", id, threshold, FullCharge)
	}
	return &Robot{id: id, battery: FullCharge, threshold: threshold}, nil
}

func (r *Robot) ID() string { return r.id }

func (r *Robot) Battery() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.battery
}

// SetBattery clamps v into [0, 100].
func (r *Robot) SetBattery(v float64) {
	r.mu.Lock()
	r.battery = clampCharge(v)
	r.mu.Unlock()
}

func (r *Robot) Threshold() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threshold
}

func (r *Robot) Docked() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.docked
}

func (r *Robot) CarriedItem() Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.carried
}

func (r *Robot) CurrentTaskID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.taskID
}

// NeedsCharging reports battery < threshold.
func (r *Robot) NeedsCharging() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.battery < r.threshold
}

// CanAfford reports whether the robot may accept a job costing cost percent.
func (r *Robot) CanAfford(cost float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.battery >= r.threshold && r.battery >= cost
}

func (r *Robot) State() RobotState {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.docked:
		return RobotCharging
	case r.taskID != "":
		return RobotExecuting
	default:
		return RobotIdle
	}
}

// Execute claims the robot for t.
func (r *Robot) Execute(t *Task) Outcome {
	if t == nil {
		return TaskNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.carried != nil || r.taskID != "" || r.docked {
		return ResourceBusy
	}
	if r.battery < r.threshold || r.battery < t.BatteryRequired() {
		return InsufficientCharge
	}
	r.taskID = t.ID()
	return OK
}

// CompleteTask clears the current task reference.
func (r *Robot) CompleteTask() {
	r.mu.Lock()
	r.taskID = ""
	r.mu.Unlock()
}

// PickUp attaches it. A robot carries at most one item.
func (r *Robot) PickUp(it Item) Outcome {
	if it == nil {
		return InvalidOperation
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.carried != nil {
		return ResourceBusy
	}
	r.carried = it
	return OK
}

// Deliver detaches and returns the carried item (nil when empty).
func (r *Robot) Deliver() Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	it := r.carried
	r.carried = nil
	return it
}

// Drain subtracts cost percent, floored at 0, and returns the new level.
func (r *Robot) Drain(cost float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.battery = clampCharge(r.battery - cost)
	return r.battery
}

// Dock marks the robot as plugged in.
func (r *Robot) Dock() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.docked || r.taskID != "" || r.carried != nil {
		return ResourceBusy
	}
	r.docked = true
	return OK
}

// ChargeStep raises the battery by step, capped at target, and reports the
// new level.
func (r *Robot) ChargeStep(step, target float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.battery + step
	if next > target {
		next = target
	}
	if next > r.battery {
		r.battery = clampCharge(next)
	}
	return r.battery
}

// Undock unplugs the robot. A charge cycle always completes to full.
func (r *Robot) Undock() {
	r.mu.Lock()
	r.docked = false
	r.battery = FullCharge
	r.mu.Unlock()
}

// Unplug leaves the dock keeping the charge reached so far. It ends an
// interrupted cycle.
func (r *Robot) Unplug() {
	r.mu.Lock()
	r.docked = false
	r.mu.Unlock()
}

func clampCharge(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > FullCharge {
		return FullCharge
	}
	return v
}

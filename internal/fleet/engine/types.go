package engine

import (
	"time"

	"shelfbot/internal/fleet"
)

// Config controls the scheduling engine.
type Config struct {
	// TaskWorkers bounds concurrent task executions. 0 follows the number of
	// registered robots.
	TaskWorkers int
	// ChargeWorkers bounds concurrent charge cycles. 0 follows the number of
	// registered stations; extra plugged-in robots wait for a worker.
	ChargeWorkers int

	// TickInterval is the period of the charging queue safety-net pass.
	// Values below one second are rounded up to one second.
	TickInterval time.Duration
	// MaxChargeWait evicts charging requests that waited longer than this.
	MaxChargeWait time.Duration

	ChargeStep         float64
	ChargeStepInterval time.Duration

	// ShutdownTimeout bounds how long Stop waits for in-flight work before
	// interrupting it.
	ShutdownTimeout time.Duration

	HistorySize int
}

const (
	DefaultTickInterval       = 2 * time.Second
	DefaultMaxChargeWait      = 15 * time.Minute
	DefaultChargeStep         = 1.0
	DefaultChargeStepInterval = 100 * time.Millisecond
	DefaultShutdownTimeout    = 60 * time.Second
	DefaultHistorySize        = 200
)

func (c Config) withDefaults() Config {
	if c.TaskWorkers < 0 {
		c.TaskWorkers = 0
	}
	if c.ChargeWorkers < 0 {
		c.ChargeWorkers = 0
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.TickInterval < time.Second {
		c.TickInterval = time.Second
	}
	if c.MaxChargeWait <= 0 {
		c.MaxChargeWait = DefaultMaxChargeWait
	}
	if c.ChargeStep <= 0 {
		c.ChargeStep = DefaultChargeStep
	}
	if c.ChargeStepInterval <= 0 {
		c.ChargeStepInterval = DefaultChargeStepInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Membership is the scheduling set a robot currently belongs to.
type Membership string

const (
	MemberAvailable Membership = "available"
	MemberBusy      Membership = "busy"
	MemberCharging  Membership = "charging"
	MemberQueued    Membership = "queued"
	MemberStranded  Membership = "stranded"
)

// RobotInfo describes one registered robot.
type RobotInfo struct {
	ID         string     `json:"id"`
	Battery    float64    `json:"battery"`
	Threshold  float64    `json:"threshold"`
	State      string     `json:"state"`
	Membership Membership `json:"membership"`
	TaskID     string     `json:"task_id,omitempty"`
}

// StationInfo describes one charging station and its slots.
type StationInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Slots     int      `json:"slots"`
	Occupied  int      `json:"occupied"`
	Occupants []string `json:"occupants"`
}

// QueueEntry is a pending charging request, in queue order.
type QueueEntry struct {
	Position int           `json:"position"`
	RobotID  string        `json:"robot_id"`
	Battery  float64       `json:"battery"`
	Waited   time.Duration `json:"waited"`
}

// HistoryItem records a finished task.
type HistoryItem struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	RobotID  string        `json:"robot_id"`
	Status   fleet.Status  `json:"status"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a read-only view of the facade's state.
type Snapshot struct {
	Running bool `json:"running"`

	Robots    int `json:"robots"`
	Available int `json:"available"`
	Busy      int `json:"busy"`
	Charging  int `json:"charging"`

	TaskQueueLen     int `json:"task_queue_len"`
	ChargingQueueLen int `json:"charging_queue_len"`

	Stations      int `json:"stations"`
	TotalSlots    int `json:"total_slots"`
	OccupiedSlots int `json:"occupied_slots"`

	Completed    uint64 `json:"completed"`
	Failed       uint64 `json:"failed"`
	TotalCharged uint64 `json:"total_charged"`
	Evicted      uint64 `json:"evicted"`

	TaskPool   PoolStats `json:"task_pool"`
	ChargePool PoolStats `json:"charge_pool"`

	Queue    []QueueEntry  `json:"queue"`
	Stranded []string      `json:"stranded"`
	History  []HistoryItem `json:"history"`
}

// TaskEvent is published on the event bus for task lifecycle changes.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	RobotID  string        `json:"robot_id,omitempty"`
	Status   fleet.Status  `json:"status"`
	Duration time.Duration `json:"duration,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ChargeEvent is published on the event bus for charging lifecycle changes.
type ChargeEvent struct {
	RobotID   string        `json:"robot_id"`
	StationID string        `json:"station_id,omitempty"`
	Battery   float64       `json:"battery"`
	Position  int           `json:"position,omitempty"`
	Waited    time.Duration `json:"waited,omitempty"`
}

// Event types published by the engine.
const (
	EventTaskQueued      = "task.queued"
	EventTaskDispatched  = "task.dispatched"
	EventTaskCompleted   = "task.completed"
	EventTaskCancelled   = "task.cancelled"
	EventChargeQueued    = "charge.queued"
	EventChargeStarted   = "charge.started"
	EventChargeCompleted = "charge.completed"
	EventChargeEvicted   = "charge.evicted"
)

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now for charging request arrival and eviction.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

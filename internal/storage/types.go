package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON state snapshot + JSONL audit log
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// State is the persisted catalog: books, shelves, station definitions and
// the robot roster. Scheduler queues are never stored.
type State struct {
	SavedAt  time.Time       `json:"saved_at"`
	Books    []BookRecord    `json:"books"`
	Shelves  []ShelfRecord   `json:"shelves"`
	Stations []StationRecord `json:"stations"`
	Robots   []RobotRecord   `json:"robots"`
}

type BookRecord struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	Category string  `json:"category"`
	WeightKg float64 `json:"weight_kg,omitempty"`
	ShelfID  string  `json:"shelf_id,omitempty"`
	Status   string  `json:"status"`
}

type ShelfRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Distance    int    `json:"distance"`
	MaxCapacity int    `json:"max_capacity"`
}

type StationRecord struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Slots int    `json:"slots"`
}

type RobotRecord struct {
	ID        string  `json:"id"`
	Battery   float64 `json:"battery"`
	Threshold float64 `json:"threshold"`
}

// AuditEntry records a finished task.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	TaskID   string    `json:"task_id"`
	TaskName string    `json:"task_name"`
	Kind     string    `json:"kind"`
	RobotID  string    `json:"robot_id"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}

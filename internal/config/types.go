package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "2s", "15m").
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Fleet   FleetConfig   `json:"fleet"`
	Catalog CatalogConfig `json:"catalog"`
	HTTP    HTTPConfig    `json:"http"`

	// Storage is optional; omit it to run without persistence.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// FleetConfig controls the scheduling engine and the initial roster.
//
// Defaults (when fields are omitted/zero):
//   - battery_threshold: 15
//   - task_workers: number of robots
//   - charge_workers: number of stations
//   - tick_interval: "2s" (minimum "1s")
//   - max_charge_wait: "15m"
//   - charge_step: 1, charge_step_interval: "100ms"
//   - shutdown_timeout: "60s"
//   - time_scale: 1
//   - history_size: 200
type FleetConfig struct {
	BatteryThreshold float64 `json:"battery_threshold,omitempty"`

	TaskWorkers   int `json:"task_workers,omitempty"`
	ChargeWorkers int `json:"charge_workers,omitempty"`

	TickInterval       string  `json:"tick_interval,omitempty"`
	MaxChargeWait      string  `json:"max_charge_wait,omitempty"`
	ChargeStep         float64 `json:"charge_step,omitempty"`
	ChargeStepInterval string  `json:"charge_step_interval,omitempty"`
	ShutdownTimeout    string  `json:"shutdown_timeout,omitempty"`

	// TimeScale multiplies distance-derived task durations.
	TimeScale   float64 `json:"time_scale,omitempty"`
	HistorySize int     `json:"history_size,omitempty"`

	// Robots and Stations seed the fleet when no saved state exists.
	Robots   []RobotConfig   `json:"robots,omitempty"`
	Stations []StationConfig `json:"stations,omitempty"`
}

type RobotConfig struct {
	ID        string  `json:"id"`
	Threshold float64 `json:"threshold,omitempty"`
	// Battery defaults to a full charge.
	Battery *float64 `json:"battery,omitempty"`
}

type StationConfig struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Slots int    `json:"slots"`
}

// CatalogConfig controls shelves, books and autosave.
type CatalogConfig struct {
	MaxShelfCapacity int `json:"max_shelf_capacity,omitempty"`
	// Autosave is a cron spec (default "@every 30s"). "off" disables it.
	Autosave string `json:"autosave,omitempty"`

	// Shelves and Books seed the catalog when no saved state exists.
	Shelves []ShelfConfig `json:"shelves,omitempty"`
	Books   []BookConfig  `json:"books,omitempty"`
}

type ShelfConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Category    string `json:"category"`
	Distance    int    `json:"distance"`
	MaxCapacity int    `json:"max_capacity,omitempty"`
}

type BookConfig struct {
	ID       string  `json:"id,omitempty"`
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	Category string  `json:"category"`
	WeightKg float64 `json:"weight_kg,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/shelfbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HTTPConfig controls the API server. Prefer binding to localhost.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	// Pprof mounts the runtime profiler under /debug.
	Pprof bool `json:"pprof,omitempty"`
}

const (
	DefaultAutosave = "@every 30s"
	DefaultHTTPAddr = "127.0.0.1:8080"
)

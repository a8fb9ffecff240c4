package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks a parsed config. It is also installed as the reload
// validator so a broken edit never replaces a working config.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	f := cfg.Fleet
	if f.BatteryThreshold < 0 || f.BatteryThreshold > 100 {
		errs = append(errs, fmt.Errorf("fleet.battery_threshold: %.1f out of range 0..100", f.BatteryThreshold))
	}
	if f.ChargeStep < 0 {
		errs = append(errs, errors.New("fleet.charge_step: must be >= 0"))
	}
	if f.TimeScale < 0 {
		errs = append(errs, errors.New("fleet.time_scale: must be >= 0"))
	}
	for path, raw := range map[string]string{
		"fleet.tick_interval":        f.TickInterval,
		"fleet.max_charge_wait":      f.MaxChargeWait,
		"fleet.charge_step_interval": f.ChargeStepInterval,
		"fleet.shutdown_timeout":     f.ShutdownTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	seen := map[string]bool{}
	for i, r := range f.Robots {
		id := strings.TrimSpace(r.ID)
		switch {
		case id == "":
			errs = append(errs, fmt.Errorf("fleet.robots[%d]: id is required", i))
		case seen[id]:
			errs = append(errs, fmt.Errorf("fleet.robots[%d]: duplicate id %q", i, id))
		}
		seen[id] = true
		if r.Battery != nil && (*r.Battery < 0 || *r.Battery > 100) {
			errs = append(errs, fmt.Errorf("fleet.robots[%d]: battery %.1f out of range 0..100", i, *r.Battery))
		}
	}
	seen = map[string]bool{}
	for i, s := range f.Stations {
		id := strings.TrimSpace(s.ID)
		switch {
		case id == "":
			errs = append(errs, fmt.Errorf("fleet.stations[%d]: id is required", i))
		case seen[id]:
			errs = append(errs, fmt.Errorf("fleet.stations[%d]: duplicate id %q", i, id))
		}
		seen[id] = true
		if s.Slots <= 0 {
			errs = append(errs, fmt.Errorf("fleet.stations[%d]: slots must be > 0", i))
		}
	}

	if spec := strings.TrimSpace(cfg.Catalog.Autosave); spec != "" && !strings.EqualFold(spec, "off") {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("catalog.autosave: %w", err))
		}
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means zero; negative
// values are rejected. path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Durations are the fleet durations resolved from their string form. Zero
// means "use the engine default".
type Durations struct {
	TickInterval       time.Duration
	MaxChargeWait      time.Duration
	ChargeStepInterval time.Duration
	ShutdownTimeout    time.Duration
}

func (f FleetConfig) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	if d.TickInterval, err = ParseDurationField("fleet.tick_interval", f.TickInterval); err != nil {
		return d, err
	}
	if d.MaxChargeWait, err = ParseDurationField("fleet.max_charge_wait", f.MaxChargeWait); err != nil {
		return d, err
	}
	if d.ChargeStepInterval, err = ParseDurationField("fleet.charge_step_interval", f.ChargeStepInterval); err != nil {
		return d, err
	}
	if d.ShutdownTimeout, err = ParseDurationField("fleet.shutdown_timeout", f.ShutdownTimeout); err != nil {
		return d, err
	}
	return d, nil
}

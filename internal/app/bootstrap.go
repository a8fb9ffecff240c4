package app

import (
	"errors"
	"fmt"

	"shelfbot/internal/catalog"
	"shelfbot/internal/config"
	"shelfbot/internal/fleet"
	"shelfbot/internal/fleet/engine"
	"shelfbot/internal/storage"
	logx "shelfbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	f := cfg.Fleet
	d, err := f.Durations()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		TaskWorkers:        f.TaskWorkers,
		ChargeWorkers:      f.ChargeWorkers,
		TickInterval:       d.TickInterval,
		MaxChargeWait:      d.MaxChargeWait,
		ChargeStep:         f.ChargeStep,
		ChargeStepInterval: d.ChargeStepInterval,
		ShutdownTimeout:    d.ShutdownTimeout,
		HistorySize:        f.HistorySize,
	}, nil
}

func mapCatalogConfig(cfg *config.Config) catalog.Config {
	return catalog.Config{
		MaxShelfCapacity: cfg.Catalog.MaxShelfCapacity,
		TimeScale:        cfg.Fleet.TimeScale,
	}
}

func batteryThreshold(cfg *config.Config) float64 {
	if cfg.Fleet.BatteryThreshold > 0 {
		return cfg.Fleet.BatteryThreshold
	}
	return fleet.DefaultBatteryThreshold
}

// restore loads the saved catalog and roster into cat and eng. It reports
// false when there was nothing to restore.
func restore(st storage.State, cat *catalog.Catalog, eng *engine.Service, threshold float64) (bool, error) {
	if err := cat.Import(catalogState(st)); err != nil {
		return false, err
	}
	stations := make([]*fleet.ChargingStation, 0, len(st.Stations))
	for _, s := range st.Stations {
		cs, err := fleet.NewChargingStation(s.ID, s.Name, s.Slots)
		if err != nil {
			return false, err
		}
		stations = append(stations, cs)
	}
	eng.ConfigureStations(stations)

	var errs []error
	for _, r := range st.Robots {
		th := r.Threshold
		if th <= 0 {
			th = threshold
		}
		rb, err := fleet.NewRobot(r.ID, th)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rb.SetBattery(r.Battery)
		if err := eng.RegisterRobot(rb); err != nil {
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}

// seed fills an empty catalog and fleet from the config.
func seed(cfg *config.Config, cat *catalog.Catalog, eng *engine.Service) error {
	threshold := batteryThreshold(cfg)

	stations := make([]*fleet.ChargingStation, 0, len(cfg.Fleet.Stations))
	for _, s := range cfg.Fleet.Stations {
		cs, err := fleet.NewChargingStation(s.ID, s.Name, s.Slots)
		if err != nil {
			return err
		}
		stations = append(stations, cs)
	}
	eng.ConfigureStations(stations)

	for _, r := range cfg.Fleet.Robots {
		th := r.Threshold
		if th <= 0 {
			th = threshold
		}
		rb, err := fleet.NewRobot(r.ID, th)
		if err != nil {
			return err
		}
		if r.Battery != nil {
			rb.SetBattery(*r.Battery)
		}
		if err := eng.RegisterRobot(rb); err != nil {
			return err
		}
	}

	for _, s := range cfg.Catalog.Shelves {
		if _, err := cat.AddShelf(catalog.ShelfSpec{
			ID:          s.ID,
			Name:        s.Name,
			Category:    s.Category,
			Distance:    s.Distance,
			MaxCapacity: s.MaxCapacity,
		}); err != nil {
			return err
		}
	}
	for i, b := range cfg.Catalog.Books {
		if _, err := cat.AddBook(catalog.BookSpec{
			ID:       b.ID,
			Title:    b.Title,
			Author:   b.Author,
			Category: b.Category,
			WeightKg: b.WeightKg,
		}); err != nil {
			return fmt.Errorf("catalog.books[%d]: %w", i, err)
		}
	}
	return nil
}

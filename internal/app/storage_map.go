package app

import (
	"fmt"
	"strings"
	"time"

	"shelfbot/internal/catalog"
	"shelfbot/internal/config"
	"shelfbot/internal/fleet/engine"
	"shelfbot/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./data/shelfbot.json"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// toState collects the persistable catalog and fleet roster.
func toState(cs catalog.State, robots []engine.RobotInfo, stations []engine.StationInfo) storage.State {
	st := storage.State{
		SavedAt:  time.Now(),
		Books:    make([]storage.BookRecord, 0, len(cs.Books)),
		Shelves:  make([]storage.ShelfRecord, 0, len(cs.Shelves)),
		Stations: make([]storage.StationRecord, 0, len(stations)),
		Robots:   make([]storage.RobotRecord, 0, len(robots)),
	}
	for _, b := range cs.Books {
		st.Books = append(st.Books, storage.BookRecord{
			ID:       b.ID,
			Title:    b.Title,
			Author:   b.Author,
			Category: b.Category,
			WeightKg: b.WeightKg,
			ShelfID:  b.ShelfID,
			Status:   string(b.Status),
		})
	}
	for _, s := range cs.Shelves {
		st.Shelves = append(st.Shelves, storage.ShelfRecord{
			ID:          s.ID,
			Name:        s.Name,
			Category:    s.Category,
			Distance:    s.Distance,
			MaxCapacity: s.MaxCapacity,
		})
	}
	for _, s := range stations {
		st.Stations = append(st.Stations, storage.StationRecord{ID: s.ID, Name: s.Name, Slots: s.Slots})
	}
	for _, r := range robots {
		st.Robots = append(st.Robots, storage.RobotRecord{ID: r.ID, Battery: r.Battery, Threshold: r.Threshold})
	}
	return st
}

// catalogState converts stored records back into catalog state.
func catalogState(st storage.State) catalog.State {
	cs := catalog.State{
		Books:   make([]catalog.Book, 0, len(st.Books)),
		Shelves: make([]catalog.Shelf, 0, len(st.Shelves)),
	}
	for _, b := range st.Books {
		cs.Books = append(cs.Books, catalog.Book{
			ID:       b.ID,
			Title:    b.Title,
			Author:   b.Author,
			Category: b.Category,
			WeightKg: b.WeightKg,
			ShelfID:  b.ShelfID,
			Status:   catalog.BookStatus(b.Status),
		})
	}
	for _, s := range st.Shelves {
		cs.Shelves = append(cs.Shelves, catalog.Shelf{
			ID:          s.ID,
			Name:        s.Name,
			Category:    s.Category,
			Distance:    s.Distance,
			MaxCapacity: s.MaxCapacity,
		})
	}
	return cs
}

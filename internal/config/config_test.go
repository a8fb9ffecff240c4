package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
fleet:
  battery_threshold: 20
  tick_interval: 2s
  max_charge_wait: 15m
  time_scale: 0.5
  robots:
    - id: R1
    - id: R2
      battery: 40
  stations:
    - id: S1
      slots: 2
catalog:
  autosave: "@every 1m"
  shelves:
    - id: F1
      category: fiction
      distance: 25
  books:
    - title: Dune
      author: Herbert
      category: fiction
storage:
  driver: sqlite
  path: ./data/shelfbot.db
http:
  enabled: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "shelfbot.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 20.0, cfg.Fleet.BatteryThreshold)
	require.Len(t, cfg.Fleet.Robots, 2)
	assert.Nil(t, cfg.Fleet.Robots[0].Battery)
	require.NotNil(t, cfg.Fleet.Robots[1].Battery)
	assert.Equal(t, 40.0, *cfg.Fleet.Robots[1].Battery)
	assert.Equal(t, 2, cfg.Fleet.Stations[0].Slots)
	assert.Equal(t, "F1", cfg.Catalog.Shelves[0].ID)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)

	d, err := cfg.Fleet.Durations()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, d.TickInterval)
	assert.Equal(t, 15*time.Minute, d.MaxChargeWait)
	assert.Zero(t, d.ShutdownTimeout)
}

func TestLoadJSONStrict(t *testing.T) {
	_, err := NewConfigManager(writeFile(t, "c.json", `{"fleet":{"robots":[{"id":"R1"}]}}`)).Load()
	require.NoError(t, err)

	_, err = NewConfigManager(writeFile(t, "c.json", `{"fleet":{"robot":[]}}`)).Load()
	assert.ErrorContains(t, err, "unknown field")

	_, err = NewConfigManager(writeFile(t, "c.json", `{} {}`)).Load()
	assert.ErrorContains(t, err, "trailing data")

	_, err = NewConfigManager(writeFile(t, "c.yml", "fleet: [")).Load()
	assert.ErrorContains(t, err, "yaml unmarshal")
}

func TestValidate(t *testing.T) {
	bad := -1.0
	cfg := &Config{
		Fleet: FleetConfig{
			BatteryThreshold: 120,
			TickInterval:     "soon",
			Robots:           []RobotConfig{{ID: "R1"}, {ID: "R1"}, {ID: "R2", Battery: &bad}},
			Stations:         []StationConfig{{ID: "S1"}},
		},
		Catalog: CatalogConfig{Autosave: "every now and then"},
		Storage: &StorageConfig{Driver: "postgres"},
	}
	err := Validate(context.Background(), cfg)
	require.Error(t, err)
	for _, want := range []string{
		"fleet.battery_threshold",
		"fleet.tick_interval",
		`duplicate id "R1"`,
		"fleet.robots[2]: battery",
		"fleet.stations[0]: slots",
		"catalog.autosave",
		"storage.driver",
	} {
		assert.ErrorContains(t, err, want)
	}

	assert.NoError(t, Validate(context.Background(), &Config{Catalog: CatalogConfig{Autosave: "off"}}))
}

func TestSummarizeConfigChange(t *testing.T) {
	a := &Config{Logging: LoggingConfig{Level: "info"}, HTTP: HTTPConfig{Enabled: true}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, HTTP: HTTPConfig{Enabled: true}, Storage: &StorageConfig{Driver: "file"}}

	changed, attrs := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"logging", "storage"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(a, a)
	assert.Empty(t, changed)
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeFile(t, "shelfbot.json", `{"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// An invalid edit is rejected and the next valid one is published. The
	// watcher starts asynchronously, so retry the edit a few times.
	var got *Config
	for attempt := 0; attempt < 10 && got == nil; attempt++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"fleet":{"battery_threshold":500}}`), 0o600))
		time.Sleep(2 * reloadDebounce)
		require.NoError(t, os.WriteFile(path, []byte(`{"logging":{"level":"debug"}}`), 0o600))
		select {
		case got = <-ch:
		case <-time.After(time.Second):
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "debug", got.Logging.Level)
	assert.Equal(t, "debug", m.Get().Logging.Level)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

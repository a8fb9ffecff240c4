package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfbot/internal/fleet/engine"
)

type fixedSource engine.Snapshot

func (f fixedSource) Snapshot() engine.Snapshot { return engine.Snapshot(f) }

func TestCollectorReportsSnapshot(t *testing.T) {
	src := fixedSource{
		Running:          true,
		Available:        2,
		Busy:             1,
		Charging:         1,
		TaskQueueLen:     4,
		ChargingQueueLen: 3,
		TotalSlots:       2,
		OccupiedSlots:    1,
		Completed:        7,
		Failed:           2,
		TotalCharged:     5,
		Evicted:          1,
		Stranded:         []string{"R9"},
		TaskPool:         engine.PoolStats{Limit: 4, InFlight: 1, Done: 9},
	}
	c := NewCollector(src)

	expected := `
# HELP shelfbot_queue_length Pending entries per queue.
# TYPE shelfbot_queue_length gauge
shelfbot_queue_length{queue="charging"} 3
shelfbot_queue_length{queue="task"} 4
# HELP shelfbot_tasks_finished_total Finished tasks by outcome.
# TYPE shelfbot_tasks_finished_total counter
shelfbot_tasks_finished_total{outcome="cancelled"} 2
shelfbot_tasks_finished_total{outcome="completed"} 7
# HELP shelfbot_charging_slots Charging slots by state.
# TYPE shelfbot_charging_slots gauge
shelfbot_charging_slots{state="free"} 1
shelfbot_charging_slots{state="occupied"} 1
# HELP shelfbot_engine_running 1 while the engine is started.
# TYPE shelfbot_engine_running gauge
shelfbot_engine_running 1
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"shelfbot_queue_length",
		"shelfbot_tasks_finished_total",
		"shelfbot_charging_slots",
		"shelfbot_engine_running",
	))

	// 5 robot sets, 2 queues, 2 slot states, 2 outcomes, charged, evicted,
	// stranded, 4 series per pool, running.
	assert.Equal(t, 5+2+2+2+1+1+1+8+1, testutil.CollectAndCount(c))
}

func TestRegistryGathers(t *testing.T) {
	reg := NewRegistry(fixedSource{})
	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["shelfbot_robots"])
	assert.True(t, names["go_goroutines"])
}

// Package metrics exports the scheduling engine's state to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"shelfbot/internal/fleet/engine"
)

const namespace = "shelfbot"

// Source returns the current engine snapshot. *engine.Service satisfies it.
type Source interface {
	Snapshot() engine.Snapshot
}

// Collector reads one snapshot per scrape and emits it as const metrics.
type Collector struct {
	src Source

	robots       *prometheus.Desc
	queueLen     *prometheus.Desc
	slots        *prometheus.Desc
	tasks        *prometheus.Desc
	charged      *prometheus.Desc
	evicted      *prometheus.Desc
	stranded     *prometheus.Desc
	poolLimit    *prometheus.Desc
	poolInFlight *prometheus.Desc
	poolWaiting  *prometheus.Desc
	poolDone     *prometheus.Desc
	running      *prometheus.Desc
}

func NewCollector(src Source) *Collector {
	d := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		src:          src,
		robots:       d("robots", "Registered robots by scheduling set.", "set"),
		queueLen:     d("queue_length", "Pending entries per queue.", "queue"),
		slots:        d("charging_slots", "Charging slots by state.", "state"),
		tasks:        d("tasks_finished_total", "Finished tasks by outcome.", "outcome"),
		charged:      d("charge_cycles_total", "Completed charge cycles."),
		evicted:      d("charge_evictions_total", "Charging requests evicted after waiting too long."),
		stranded:     d("robots_stranded", "Robots parked out of rotation after eviction."),
		poolLimit:    d("pool_limit", "Worker pool concurrency limit.", "pool"),
		poolInFlight: d("pool_in_flight", "Jobs running in a worker pool.", "pool"),
		poolWaiting:  d("pool_waiting", "Jobs waiting for a worker pool permit.", "pool"),
		poolDone:     d("pool_jobs_total", "Jobs finished by a worker pool.", "pool"),
		running:      d("engine_running", "1 while the engine is started."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.robots, c.queueLen, c.slots, c.tasks, c.charged, c.evicted,
		c.stranded, c.poolLimit, c.poolInFlight, c.poolWaiting, c.poolDone, c.running,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Snapshot()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(c.robots, float64(s.Available), string(engine.MemberAvailable))
	gauge(c.robots, float64(s.Busy), string(engine.MemberBusy))
	gauge(c.robots, float64(s.Charging), string(engine.MemberCharging))
	gauge(c.robots, float64(s.ChargingQueueLen), string(engine.MemberQueued))
	gauge(c.robots, float64(len(s.Stranded)), string(engine.MemberStranded))
	gauge(c.queueLen, float64(s.TaskQueueLen), "task")
	gauge(c.queueLen, float64(s.ChargingQueueLen), "charging")
	gauge(c.slots, float64(s.OccupiedSlots), "occupied")
	gauge(c.slots, float64(s.TotalSlots-s.OccupiedSlots), "free")
	counter(c.tasks, s.Completed, "completed")
	counter(c.tasks, s.Failed, "cancelled")
	counter(c.charged, s.TotalCharged)
	counter(c.evicted, s.Evicted)
	gauge(c.stranded, float64(len(s.Stranded)))

	for name, p := range map[string]engine.PoolStats{"task": s.TaskPool, "charge": s.ChargePool} {
		gauge(c.poolLimit, float64(p.Limit), name)
		gauge(c.poolInFlight, float64(p.InFlight), name)
		gauge(c.poolWaiting, float64(p.Waiting), name)
		counter(c.poolDone, p.Done, name)
	}

	run := 0.0
	if s.Running {
		run = 1
	}
	gauge(c.running, run)
}

// NewRegistry returns a registry with the engine collector plus the Go
// runtime and process collectors.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

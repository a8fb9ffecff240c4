package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"shelfbot/internal/eventbus"
	"shelfbot/internal/fleet"
	rtsup "shelfbot/internal/runtime/supervisor"
	logx "shelfbot/pkg/logx"
)

const (
	warnThrottleEvery = 10 * time.Second
	tickerStopTimeout = 5 * time.Second
	idlePollInterval  = 10 * time.Millisecond
)

// Service is the scheduling facade. It owns the task queue, the charging
// queue and the available/busy/charging robot sets, and every mutation of
// them happens under mu. Task executions and charge cycles run on the two
// pools outside the lock.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	res logx.Logger
	bus eventbus.Bus
	now func() time.Time

	running  bool
	stopping bool
	sup      *rtsup.Supervisor
	ticker   *cron.Cron

	taskPool   *pool
	chargePool *pool

	robots   map[string]*fleet.Robot
	regOrder map[string]int
	regSeq   int

	stations   []*fleet.ChargingStation
	totalSlots int

	taskQueue   []*fleet.Task
	chargeQueue []*fleet.ChargingRequest
	available   []*fleet.Robot
	busy        map[string]*fleet.Robot
	charging    map[string]*fleet.ChargingRequest
	stranded    map[string]*fleet.Robot

	// tasks indexes queued, running and recently finished tasks by id.
	tasks   map[string]*fleet.Task
	history []HistoryItem

	completed    uint64
	failed       uint64
	totalCharged uint64
	evicted      uint64

	slotsFullLog rate.Sometimes
	noSlotLog    rate.Sometimes
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	s := &Service{
		cfg:          cfg.withDefaults(),
		log:          log.Scope(logx.ScopeTasks),
		res:          log.Scope(logx.ScopeResources),
		bus:          bus,
		now:          time.Now,
		robots:       map[string]*fleet.Robot{},
		regOrder:     map[string]int{},
		busy:         map[string]*fleet.Robot{},
		charging:     map[string]*fleet.ChargingRequest{},
		stranded:     map[string]*fleet.Robot{},
		tasks:        map[string]*fleet.Task{},
		slotsFullLog: rate.Sometimes{First: 1, Interval: warnThrottleEvery},
		noSlotLog:    rate.Sometimes{First: 1, Interval: warnThrottleEvery},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the worker pools and the charging queue ticker, then drains
// whatever was registered or submitted before.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if s.stopping {
		return ErrStopped
	}

	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "fleet"))),
		rtsup.WithCancelOnError(false),
	)
	s.taskPool = newPool("task", s.cfg.TaskWorkers, s.sup)
	s.chargePool = newPool("charge", s.cfg.ChargeWorkers, s.sup)
	s.resizePoolsLocked()

	s.ticker = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.ticker.Schedule(cron.Every(s.cfg.TickInterval), cron.FuncJob(s.tick))
	s.ticker.Start()
	s.running = true

	s.log.Info("scheduler started",
		logx.Int("robots", len(s.robots)),
		logx.Int("stations", len(s.stations)),
		logx.Int("slots", s.totalSlots),
		logx.Duration("tick", s.cfg.TickInterval),
	)

	s.processChargingQueueLocked()
	s.dispatchLocked()
	return nil
}

// Stop stops the ticker, lets in-flight work finish for up to
// ShutdownTimeout and then interrupts whatever is still running. Interrupted
// tasks are cancelled. Queued tasks and charging requests stay queued, and
// so do dispatched tasks that never got a worker. Unfinished charge cycles
// go back to the charging queue with the charge reached so far.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopping = true
	ticker := s.ticker
	sup := s.sup
	grace := s.cfg.ShutdownTimeout
	s.mu.Unlock()

	s.log.Info("stop requested")

	tctx, cancel := context.WithTimeout(ctx, tickerStopTimeout)
	select {
	case <-ticker.Stop().Done():
	case <-tctx.Done():
	}
	cancel()

	gctx, cancel := context.WithTimeout(ctx, grace)
	err := sup.Wait(gctx)
	cancel()
	if err != nil && gctx.Err() != nil {
		s.log.Warn("in-flight work did not finish in time; interrupting", logx.Duration("grace", grace))
	}
	// Interrupted jobs still settle their task and robot before returning.
	err = sup.Stop(ctx)

	s.mu.Lock()
	s.stopping = false
	s.sup = nil
	s.ticker = nil
	s.mu.Unlock()

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RegisterRobot adds r to the fleet. A robot below its threshold goes
// straight to the charging path and never enters the available set.
func (s *Service) RegisterRobot(r *fleet.Robot) error {
	if r == nil {
		return fmt.Errorf("register robot: %w", fleet.ErrInvalidOperation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := r.ID()
	if _, ok := s.robots[id]; ok {
		return fmt.Errorf("register robot %s: %w", id, ErrDuplicateRobot)
	}
	s.robots[id] = r
	s.regSeq++
	s.regOrder[id] = s.regSeq
	s.resizePoolsLocked()

	s.res.Info("robot registered", logx.String("robot", id), logx.Percent("battery", r.Battery()), logx.Percent("threshold", r.Threshold()))

	if r.NeedsCharging() {
		s.requestChargingLocked(r)
	} else {
		s.makeAvailableLocked(r)
	}
	s.dispatchLocked()
	return nil
}

// SubmitTask appends t to the task queue and attempts dispatch. It never
// blocks on execution. Before Start, tasks are queued and dispatched once the
// engine starts.
func (s *Service) SubmitTask(t *fleet.Task) error {
	if t == nil {
		return fleet.ErrTaskNotFound
	}
	if t.Status() != fleet.StatusQueued {
		return fmt.Errorf("submit task %s: %w", t.ID(), ErrTaskNotQueued)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrStopped
	}
	if _, ok := s.tasks[t.ID()]; ok {
		return fmt.Errorf("submit task %s: %w", t.ID(), fleet.ErrInvalidOperation)
	}
	s.tasks[t.ID()] = t
	s.taskQueue = append(s.taskQueue, t)
	s.publish(EventTaskQueued, taskEvent(t, "", 0, ""))
	s.log.Debug("task queued",
		logx.String("task", t.ID()),
		logx.String("name", t.Name()),
		logx.String("priority", t.Priority().String()),
		logx.Float64("battery_required", t.BatteryRequired()),
		logx.Int("queue_len", len(s.taskQueue)),
	)
	s.dispatchLocked()
	return nil
}

// ConfigureStations replaces the station set and slot capacity, then
// processes the charging queue. Robots already plugged into a removed
// station finish their cycle there.
func (s *Service) ConfigureStations(stations []*fleet.ChargingStation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations = slices.DeleteFunc(slices.Clone(stations), func(st *fleet.ChargingStation) bool { return st == nil })
	s.recountSlotsLocked()
	s.res.Info("stations configured", logx.Int("stations", len(s.stations)), logx.Int("slots", s.totalSlots))
	s.processChargingQueueLocked()
}

// AddStation appends a station and processes the charging queue.
func (s *Service) AddStation(st *fleet.ChargingStation) error {
	if st == nil {
		return fmt.Errorf("add station: %w", fleet.ErrInvalidOperation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.stations {
		if cur.ID() == st.ID() {
			return fmt.Errorf("add station %s: %w", st.ID(), fleet.ErrInvalidOperation)
		}
	}
	s.stations = append(s.stations, st)
	s.recountSlotsLocked()
	s.res.Info("station added", logx.String("station", st.ID()), logx.Int("slots", st.TotalSlots()), logx.Int("total_slots", s.totalSlots))
	s.processChargingQueueLocked()
	return nil
}

// Recharge puts a stranded robot back on the charging path.
func (s *Service) Recharge(robotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.stranded[robotID]
	if !ok {
		if _, known := s.robots[robotID]; !known {
			return fmt.Errorf("recharge %s: %w", robotID, ErrUnknownRobot)
		}
		return fmt.Errorf("recharge %s: %w", robotID, ErrNotStranded)
	}
	delete(s.stranded, robotID)
	s.requestChargingLocked(r)
	return nil
}

// Robot returns a registered robot by id.
func (s *Service) Robot(id string) (*fleet.Robot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.robots[id]
	return r, ok
}

// Task returns a queued, running or recently finished task.
func (s *Service) Task(id string) (*fleet.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Robots lists registered robots in registration order.
func (s *Service) Robots() []RobotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RobotInfo, 0, len(s.robots))
	for _, r := range s.robots {
		out = append(out, RobotInfo{
			ID:         r.ID(),
			Battery:    r.Battery(),
			Threshold:  r.Threshold(),
			State:      r.State().String(),
			Membership: s.membershipLocked(r),
			TaskID:     r.CurrentTaskID(),
		})
	}
	slices.SortFunc(out, func(a, b RobotInfo) int { return s.regOrder[a.ID] - s.regOrder[b.ID] })
	return out
}

// Stations lists the configured stations.
func (s *Service) Stations() []StationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StationInfo, 0, len(s.stations))
	for _, st := range s.stations {
		occ := st.Occupants()
		n := 0
		for _, id := range occ {
			if id != "" {
				n++
			}
		}
		out = append(out, StationInfo{ID: st.ID(), Name: st.Name(), Slots: len(occ), Occupied: n, Occupants: occ})
	}
	return out
}

// ChargingQueue returns the pending charging requests in queue order.
func (s *Service) ChargingQueue() []QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueEntriesLocked()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	occupied := 0
	for _, st := range s.stations {
		occupied += st.OccupiedSlots()
	}
	stranded := make([]string, 0, len(s.stranded))
	for id := range s.stranded {
		stranded = append(stranded, id)
	}
	slices.Sort(stranded)
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)

	return Snapshot{
		Running:          s.running,
		Robots:           len(s.robots),
		Available:        len(s.available),
		Busy:             len(s.busy),
		Charging:         len(s.charging),
		TaskQueueLen:     len(s.taskQueue),
		ChargingQueueLen: len(s.chargeQueue),
		Stations:         len(s.stations),
		TotalSlots:       s.totalSlots,
		OccupiedSlots:    occupied,
		Completed:        s.completed,
		Failed:           s.failed,
		TotalCharged:     s.totalCharged,
		Evicted:          s.evicted,
		TaskPool:         s.taskPool.stats(),
		ChargePool:       s.chargePool.stats(),
		Queue:            s.queueEntriesLocked(),
		Stranded:         stranded,
		History:          h,
	}
}

// WaitIdle blocks until both queues are empty and no task or charge cycle is
// in flight, or ctx is done. Stranded robots do not count as work.
func (s *Service) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(idlePollInterval)
	defer t.Stop()
	for {
		if s.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *Service) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.taskQueue) == 0 && len(s.chargeQueue) == 0 && len(s.busy) == 0 && len(s.charging) == 0
}

func (s *Service) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processChargingQueueLocked()
}

func (s *Service) membershipLocked(r *fleet.Robot) Membership {
	id := r.ID()
	switch {
	case s.busy[id] != nil:
		return MemberBusy
	case s.charging[id] != nil:
		return MemberCharging
	case s.stranded[id] != nil:
		return MemberStranded
	case slices.Contains(s.available, r):
		return MemberAvailable
	default:
		return MemberQueued
	}
}

// makeAvailableLocked inserts r into the available set, ordered by
// registration. A robot already available is left alone.
func (s *Service) makeAvailableLocked(r *fleet.Robot) {
	if slices.Contains(s.available, r) {
		return
	}
	order := s.regOrder[r.ID()]
	i, _ := slices.BinarySearchFunc(s.available, order, func(a *fleet.Robot, o int) int { return s.regOrder[a.ID()] - o })
	s.available = slices.Insert(s.available, i, r)
}

func (s *Service) removeAvailableLocked(r *fleet.Robot) {
	s.available = slices.DeleteFunc(s.available, func(a *fleet.Robot) bool { return a == r })
}

func (s *Service) recountSlotsLocked() {
	n := 0
	for _, st := range s.stations {
		n += st.TotalSlots()
	}
	s.totalSlots = n
	s.resizePoolsLocked()
}

func (s *Service) resizePoolsLocked() {
	s.taskPool.resize(len(s.robots))
	s.chargePool.resize(len(s.stations))
}

func (s *Service) queueEntriesLocked() []QueueEntry {
	now := s.now()
	out := make([]QueueEntry, 0, len(s.chargeQueue))
	for i, req := range s.chargeQueue {
		out = append(out, QueueEntry{
			Position: i + 1,
			RobotID:  req.Robot.ID(),
			Battery:  req.Robot.Battery(),
			Waited:   req.Waited(now),
		})
	}
	return out
}

func (s *Service) recordLocked(item HistoryItem) {
	s.history = append(s.history, item)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		for _, old := range s.history[:over] {
			if t := s.tasks[old.ID]; t != nil && t.Status().Terminal() {
				delete(s.tasks, old.ID)
			}
		}
		s.history = slices.Clone(s.history[over:])
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func taskEvent(t *fleet.Task, robotID string, d time.Duration, errText string) TaskEvent {
	return TaskEvent{
		ID:       t.ID(),
		Name:     t.Name(),
		Kind:     t.Kind().String(),
		RobotID:  robotID,
		Status:   t.Status(),
		Duration: d,
		Error:    errText,
	}
}

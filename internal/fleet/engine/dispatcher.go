package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"shelfbot/internal/fleet"
	logx "shelfbot/pkg/logx"
)

var errInterrupted = errors.New("interrupted")

// dispatchLocked matches the head of the task queue to the first available
// robot, in registration order, that meets both its own threshold and the
// task's battery cost. Robots under threshold met during the scan are sent
// to charging. Dispatch is strictly FIFO: priority is not consulted, and a
// head task nobody can afford blocks the tasks behind it.
func (s *Service) dispatchLocked() {
	if !s.running {
		return
	}
	for len(s.taskQueue) > 0 && len(s.available) > 0 {
		head := s.taskQueue[0]
		cost := head.BatteryRequired()

		var picked *fleet.Robot
		for i := 0; i < len(s.available); {
			r := s.available[i]
			if r.NeedsCharging() {
				s.available = append(s.available[:i], s.available[i+1:]...)
				s.res.Info("robot below threshold; routing to charging", logx.String("robot", r.ID()), logx.Percent("battery", r.Battery()))
				s.requestChargingLocked(r)
				continue
			}
			if !r.CanAfford(cost) {
				i++
				continue
			}
			picked = r
			s.available = append(s.available[:i], s.available[i+1:]...)
			break
		}
		if picked == nil {
			return
		}

		s.taskQueue[0] = nil
		s.taskQueue = s.taskQueue[1:]
		if len(s.taskQueue) == 0 {
			s.taskQueue = nil
		}
		s.busy[picked.ID()] = picked

		s.log.Info("task dispatched",
			logx.String("task", head.ID()),
			logx.String("robot", picked.ID()),
			logx.Percent("battery", picked.Battery()),
			logx.Float64("battery_required", cost),
		)
		s.publish(EventTaskDispatched, taskEvent(head, picked.ID(), 0, ""))

		t, r := head, picked
		s.taskPool.submit(t.ID(), func(ctx context.Context, started bool) {
			if !started || ctx.Err() != nil {
				s.requeue(t, r)
				return
			}
			s.execute(ctx, t, r)
		})
	}
}

// execute runs t on r outside the lock and then releases r.
func (s *Service) execute(ctx context.Context, t *fleet.Task, r *fleet.Robot) {
	start := time.Now()
	err := s.runTask(ctx, t, r)
	if err != nil {
		s.abortTask(t, r, err)
	}
	took := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	item := HistoryItem{ID: t.ID(), Name: t.Name(), RobotID: r.ID(), Status: t.Status(), Started: start, Duration: took}
	if err != nil {
		s.failed++
		item.Error = err.Error()
		s.log.Warn("task cancelled",
			logx.String("task", t.ID()),
			logx.String("robot", r.ID()),
			logx.Err(err),
			logx.Uint64("failed_total", s.failed),
		)
		s.publish(EventTaskCancelled, taskEvent(t, r.ID(), took, item.Error))
	} else {
		s.completed++
		s.log.Info("task completed",
			logx.String("task", t.ID()),
			logx.String("robot", r.ID()),
			logx.Percent("battery", r.Battery()),
			logx.Duration("took", took),
		)
		s.publish(EventTaskCompleted, taskEvent(t, r.ID(), took, ""))
	}
	s.recordLocked(item)

	s.releaseLocked(r)
	s.dispatchLocked()
}

func (s *Service) runTask(ctx context.Context, t *fleet.Task, r *fleet.Robot) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if ctx.Err() != nil {
		return errInterrupted
	}
	if err := t.Start(r.ID()); err != nil {
		return err
	}
	if out := r.Execute(t); out != fleet.OK {
		return out.Err()
	}
	if it := t.Item(); it != nil {
		if out := r.PickUp(it); out != fleet.OK {
			return out.Err()
		}
		it.BeginTransit(r.ID())
	}

	if !sleepCtx(ctx, t.Duration()) {
		return errInterrupted
	}

	r.Drain(t.BatteryRequired())
	if it := r.Deliver(); it != nil {
		it.FinishTransit(t.Kind())
	}
	r.CompleteTask()
	return t.Complete()
}

// requeue puts a dispatched task that never got a worker back in the task
// queue, ahead of tasks created after it, and frees its robot.
func (s *Service) requeue(t *fleet.Task, r *fleet.Robot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := 0
	for i < len(s.taskQueue) && !s.taskQueue[i].CreatedAt().After(t.CreatedAt()) {
		i++
	}
	s.taskQueue = slices.Insert(s.taskQueue, i, t)
	s.log.Warn("task not started; requeued", logx.String("task", t.ID()), logx.String("robot", r.ID()))
	s.releaseLocked(r)
	s.dispatchLocked()
}

// abortTask cancels t and reverts its item. The task is not requeued.
func (s *Service) abortTask(t *fleet.Task, r *fleet.Robot, cause error) {
	if it := t.Item(); it != nil {
		if r.CarriedItem() == it {
			r.Deliver()
		}
		it.CancelTransit()
	}
	if r.CurrentTaskID() == t.ID() {
		r.CompleteTask()
	}
	if err := t.Cancel(cause.Error()); err != nil {
		s.log.Debug("task cancel skipped", logx.String("task", t.ID()), logx.Err(err))
	}
}

// releaseLocked moves r out of the busy set: to charging when it dropped
// below its threshold, otherwise back to available. Releasing a robot that
// is already available leaves the set unchanged.
func (s *Service) releaseLocked(r *fleet.Robot) {
	delete(s.busy, r.ID())
	if r.NeedsCharging() {
		s.requestChargingLocked(r)
		return
	}
	s.makeAvailableLocked(r)
}

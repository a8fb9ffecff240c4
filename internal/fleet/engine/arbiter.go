package engine

import (
	"context"
	"slices"
	"time"

	"shelfbot/internal/fleet"
	logx "shelfbot/pkg/logx"
)

// requestChargingLocked puts r on the charging path: straight into a free
// slot when capacity allows, otherwise at the tail of the charging queue.
// A robot already charging or queued is left alone.
func (s *Service) requestChargingLocked(r *fleet.Robot) {
	id := r.ID()
	if _, ok := s.charging[id]; ok {
		return
	}
	for _, q := range s.chargeQueue {
		if q.Robot == r {
			return
		}
	}
	delete(s.stranded, id)
	s.removeAvailableLocked(r)

	req := fleet.NewChargingRequest(r, s.now())
	if s.running && len(s.charging) < s.totalSlots {
		if st := s.plugInLocked(r); st != nil {
			req.Station = st
			s.startChargingLocked(req)
			return
		}
	}
	s.chargeQueue = append(s.chargeQueue, req)
	pos := len(s.chargeQueue)
	s.res.Info("robot queued for charging",
		logx.String("robot", id),
		logx.Percent("battery", r.Battery()),
		logx.Int("position", pos),
	)
	s.publish(EventChargeQueued, ChargeEvent{RobotID: id, Battery: r.Battery(), Position: pos})
}

// processChargingQueueLocked drains the charging queue head-first while
// slot capacity remains. Requests that waited past MaxChargeWait are evicted
// before slot matching, so they never start charging. When no slot can be
// found the head is put back and the pass ends.
func (s *Service) processChargingQueueLocked() {
	if !s.running {
		return
	}
	for len(s.chargeQueue) > 0 {
		if s.totalSlots == 0 {
			s.noSlotLog.Do(func() {
				s.res.Warn("charging queue blocked: no stations configured", logx.Int("queue_len", len(s.chargeQueue)))
			})
			return
		}
		if len(s.charging) >= s.totalSlots {
			s.slotsFullLog.Do(func() {
				s.res.Debug("all charging slots occupied", logx.Int("slots", s.totalSlots), logx.Int("queue_len", len(s.chargeQueue)))
			})
			return
		}

		req := s.chargeQueue[0]
		s.chargeQueue[0] = nil
		s.chargeQueue = s.chargeQueue[1:]

		if waited := req.Waited(s.now()); waited > s.cfg.MaxChargeWait {
			s.evictLocked(req, waited)
			continue
		}

		st := s.plugInLocked(req.Robot)
		if st == nil {
			s.chargeQueue = append([]*fleet.ChargingRequest{req}, s.chargeQueue...)
			return
		}
		req.Station = st
		s.startChargingLocked(req)
	}
	if len(s.chargeQueue) == 0 {
		s.chargeQueue = nil
	}
}

func (s *Service) evictLocked(req *fleet.ChargingRequest, waited time.Duration) {
	r := req.Robot
	s.evicted++
	s.stranded[r.ID()] = r
	s.res.Warn("charging request evicted",
		logx.String("robot", r.ID()),
		logx.Duration("waited", waited),
		logx.Duration("max_wait", s.cfg.MaxChargeWait),
		logx.Uint64("evicted_total", s.evicted),
	)
	s.publish(EventChargeEvicted, ChargeEvent{RobotID: r.ID(), Battery: r.Battery(), Waited: waited})
}

// plugInLocked plugs r into the first station with a free slot.
func (s *Service) plugInLocked(r *fleet.Robot) *fleet.ChargingStation {
	for _, st := range s.stations {
		switch st.PlugIn(r) {
		case fleet.OK:
			return st
		case fleet.ResourceBusy:
			// Already plugged in here.
			return st
		}
	}
	return nil
}

func (s *Service) startChargingLocked(req *fleet.ChargingRequest) {
	r := req.Robot
	s.charging[r.ID()] = req
	s.res.Info("robot plugged in",
		logx.String("robot", r.ID()),
		logx.String("station", req.Station.ID()),
		logx.Percent("battery", r.Battery()),
		logx.Int("queue_len", len(s.chargeQueue)),
	)
	s.publish(EventChargeStarted, ChargeEvent{RobotID: r.ID(), StationID: req.Station.ID(), Battery: r.Battery()})
	s.chargePool.submit(r.ID(), func(ctx context.Context, started bool) {
		if !started {
			s.suspendCharge(req, time.Now(), false)
			return
		}
		s.charge(ctx, req)
	})
}

// charge ramps the robot to its target, unplugs it and only then lets the
// arbiter and dispatcher look at the freed slot and the recharged robot.
func (s *Service) charge(ctx context.Context, req *fleet.ChargingRequest) {
	r := req.Robot
	start := time.Now()

	if out := r.Dock(); out != fleet.OK {
		s.res.Warn("dock refused", logx.String("robot", r.ID()), logx.String("outcome", out.String()))
	} else {
		for r.Battery() < req.Target {
			if !sleepCtx(ctx, s.cfg.ChargeStepInterval) {
				r.Unplug()
				s.suspendCharge(req, start, true)
				return
			}
			r.ChargeStep(s.cfg.ChargeStep, req.Target)
		}
		r.Undock()
	}
	req.Station.PlugOut(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.charging, r.ID())
	s.totalCharged++
	s.makeAvailableLocked(r)

	s.res.Info("charging completed",
		logx.String("robot", r.ID()),
		logx.String("station", req.Station.ID()),
		logx.Percent("battery", r.Battery()),
		logx.Duration("took", time.Since(start)),
	)
	s.publish(EventChargeCompleted, ChargeEvent{RobotID: r.ID(), StationID: req.Station.ID(), Battery: r.Battery()})

	s.processChargingQueueLocked()
	s.dispatchLocked()
}

// suspendCharge hands an unfinished cycle back to the charging queue: the
// slot is freed, the robot keeps the charge it reached and the request
// returns to its arrival position. It does not count as a charge cycle.
func (s *Service) suspendCharge(req *fleet.ChargingRequest, start time.Time, started bool) {
	r := req.Robot
	req.Station.PlugOut(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	req.Station = nil
	delete(s.charging, r.ID())
	i := 0
	for i < len(s.chargeQueue) && !s.chargeQueue[i].Arrival.After(req.Arrival) {
		i++
	}
	s.chargeQueue = slices.Insert(s.chargeQueue, i, req)

	s.res.Warn("charging interrupted; request requeued",
		logx.String("robot", r.ID()),
		logx.Percent("battery", r.Battery()),
		logx.Bool("started", started),
		logx.Int("position", i+1),
		logx.Duration("took", time.Since(start)),
	)
	s.processChargingQueueLocked()
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

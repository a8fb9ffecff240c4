package fleet

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubItem struct {
	id        string
	robot     string
	finished  []Kind
	cancelled int
	abandoned int
}

func (s *stubItem) ItemID() string              { return s.id }
func (s *stubItem) BeginTransit(robotID string) { s.robot = robotID }
func (s *stubItem) FinishTransit(kind Kind)     { s.finished = append(s.finished, kind) }
func (s *stubItem) CancelTransit()              { s.cancelled++ }
func (s *stubItem) Abandon()                    { s.abandoned++ }

func mustRobot(t *testing.T, id string) *Robot {
	t.Helper()
	r, err := NewRobot(id, 0)
	require.NoError(t, err)
	return r
}

func mustTask(t *testing.T, id string, cost float64) *Task {
	t.Helper()
	tk, err := NewTask(TaskSpec{ID: id, Duration: time.Millisecond, BatteryRequired: cost})
	require.NoError(t, err)
	return tk
}

func TestNewRobotDefaults(t *testing.T) {
	r := mustRobot(t, "R1")
	assert.Equal(t, FullCharge, r.Battery())
	assert.Equal(t, DefaultBatteryThreshold, r.Threshold())
	assert.Equal(t, RobotIdle, r.State())

	_, err := NewRobot("  ", 10)
	require.Error(t, err)
	_, err = NewRobot("R2", 120)
	require.Error(t, err)
}

func TestRobotExecuteGuards(t *testing.T) {
	r := mustRobot(t, "R1")
	assert.Equal(t, TaskNotFound, r.Execute(nil))

	r.SetBattery(10)
	assert.Equal(t, InsufficientCharge, r.Execute(mustTask(t, "low", 1)))

	r.SetBattery(40)
	assert.Equal(t, InsufficientCharge, r.Execute(mustTask(t, "costly", 50)))
	assert.Empty(t, r.CurrentTaskID())

	tk := mustTask(t, "ok", 20)
	require.Equal(t, OK, r.Execute(tk))
	assert.Equal(t, "ok", r.CurrentTaskID())
	assert.Equal(t, RobotExecuting, r.State())

	assert.Equal(t, ResourceBusy, r.Execute(mustTask(t, "second", 1)))
	assert.Equal(t, ResourceBusy, r.Dock())

	r.CompleteTask()
	assert.Equal(t, RobotIdle, r.State())
}

func TestRobotCarriesOneItem(t *testing.T) {
	r := mustRobot(t, "R1")
	a := &stubItem{id: "a"}
	require.Equal(t, OK, r.PickUp(a))
	assert.Equal(t, ResourceBusy, r.PickUp(&stubItem{id: "b"}))
	assert.Equal(t, InvalidOperation, r.PickUp(nil))

	assert.Equal(t, ResourceBusy, r.Execute(mustTask(t, "t", 1)))

	got := r.Deliver()
	assert.Same(t, a, got)
	assert.Nil(t, r.Deliver())
}

func TestRobotDrainFloorsAtZero(t *testing.T) {
	r := mustRobot(t, "R1")
	assert.InDelta(t, 90.0, r.Drain(10), 1e-9)
	assert.Equal(t, 0.0, r.Drain(500))
}

func TestRobotChargeCycle(t *testing.T) {
	r := mustRobot(t, "R1")
	r.SetBattery(97.5)
	require.Equal(t, OK, r.Dock())
	assert.True(t, r.Docked())
	assert.Equal(t, RobotCharging, r.State())
	assert.Equal(t, ResourceBusy, r.Dock())
	assert.Equal(t, ResourceBusy, r.Execute(mustTask(t, "t", 1)))

	assert.InDelta(t, 98.5, r.ChargeStep(1, FullCharge), 1e-9)
	assert.InDelta(t, 99.5, r.ChargeStep(1, FullCharge), 1e-9)
	assert.Equal(t, FullCharge, r.ChargeStep(1, FullCharge))

	r.SetBattery(30)
	r.Undock()
	assert.False(t, r.Docked())
	assert.Equal(t, FullCharge, r.Battery())
}

func TestRobotUnplugKeepsPartialCharge(t *testing.T) {
	r := mustRobot(t, "R1")
	r.SetBattery(5)
	require.Equal(t, OK, r.Dock())
	r.ChargeStep(3, FullCharge)
	r.Unplug()
	assert.False(t, r.Docked())
	assert.Equal(t, RobotIdle, r.State())
	assert.InDelta(t, 8.0, r.Battery(), 1e-9)
}

func TestRobotNeedsCharging(t *testing.T) {
	r := mustRobot(t, "R1")
	r.SetBattery(14.9)
	assert.True(t, r.NeedsCharging())
	assert.False(t, r.CanAfford(1))

	r.SetBattery(15)
	assert.False(t, r.NeedsCharging())
	assert.True(t, r.CanAfford(15))
	assert.False(t, r.CanAfford(15.1))
}

func TestOutcomeErr(t *testing.T) {
	assert.NoError(t, OK.Err())
	assert.True(t, errors.Is(ResourceBusy.Err(), ErrResourceBusy))
	assert.True(t, errors.Is(InsufficientCharge.Err(), ErrInsufficientCharge))
	assert.True(t, errors.Is(SlotUnavailable.Err(), ErrSlotUnavailable))
	assert.True(t, errors.Is(TaskNotFound.Err(), ErrTaskNotFound))
	assert.True(t, errors.Is(InvalidOperation.Err(), ErrInvalidOperation))
	assert.Equal(t, "insufficient_charge", InsufficientCharge.String())
}

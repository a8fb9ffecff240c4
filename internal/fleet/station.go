package fleet

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Slot holds at most one robot.
type Slot struct {
	robot *Robot
}

func (s *Slot) Available() bool { return s.robot == nil }

// ChargingStation exposes a fixed number of mutually exclusive slots.
type ChargingStation struct {
	id   string
	name string

	mu    sync.Mutex
	slots []Slot
}

func NewChargingStation(id, name string, slots int) (*ChargingStation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("station id is required")
	}
	if slots <= 0 {
		return nil, fmt.Errorf("station %s: slots must be > 0", id)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = id
	}
	return &ChargingStation{id: id, name: name, slots: make([]Slot, slots)}, nil
}

func (c *ChargingStation) ID() string   { return c.id }
func (c *ChargingStation) Name() string { return c.name }

func (c *ChargingStation) TotalSlots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

func (c *ChargingStation) OccupiedSlots() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.occupiedLocked()
}

// Occupants lists the robot ids per slot ("" for a free slot).
func (c *ChargingStation) Occupants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.slots))
	for i := range c.slots {
		if r := c.slots[i].robot; r != nil {
			out[i] = r.ID()
		}
	}
	return out
}

// PlugIn places r into the first free slot.
func (c *ChargingStation) PlugIn(r *Robot) Outcome {
	if r == nil {
		return InvalidOperation
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	free := -1
	for i := range c.slots {
		if c.slots[i].robot == r {
			return ResourceBusy
		}
		if free < 0 && c.slots[i].Available() {
			free = i
		}
	}
	if free < 0 {
		return SlotUnavailable
	}
	c.slots[free].robot = r
	return OK
}

// PlugOut frees the slot held by r. It reports false if r was not plugged in here.
func (c *ChargingStation) PlugOut(r *Robot) bool {
	if r == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		if c.slots[i].robot != nil && c.slots[i].robot.ID() == r.ID() {
			c.slots[i].robot = nil
			return true
		}
	}
	return false
}

func (c *ChargingStation) occupiedLocked() int {
	n := 0
	for i := range c.slots {
		if !c.slots[i].Available() {
			n++
		}
	}
	return n
}

package fleet

import "time"

// ChargingRequest is a queued demand for a charging slot.
type ChargingRequest struct {
	Robot   *Robot
	Target  float64
	Arrival time.Time
	// Station is set once the request is matched to a slot.
	Station *ChargingStation
}

func NewChargingRequest(r *Robot, arrival time.Time) *ChargingRequest {
	return &ChargingRequest{Robot: r, Target: FullCharge, Arrival: arrival}
}

// Waited reports how long the request has been queued as of now.
func (c *ChargingRequest) Waited(now time.Time) time.Duration {
	d := now.Sub(c.Arrival)
	if d < 0 {
		return 0
	}
	return d
}

package eventloop

import "time"

// ServiceTimer is the one timer slot a service gets for whatever it's
// currently waiting on — a start timeout, a stop timeout, a restart
// delay. A service never needs two pending deadlines at once, so
// re-arming replaces whatever was running rather than stacking.
type ServiceTimer struct {
	clock *time.Timer
	live  bool
}

// NewServiceTimer returns a disarmed timer.
func NewServiceTimer() *ServiceTimer {
	return &ServiceTimer{}
}

// Arm (re-)starts the timer for d, discarding any previous deadline.
func (t *ServiceTimer) Arm(d time.Duration) {
	t.Stop()
	t.clock = time.NewTimer(d)
	t.live = true
}

// Stop cancels the timer, if any, and disarms it.
func (t *ServiceTimer) Stop() {
	if t.clock != nil {
		t.clock.Stop()
		t.clock = nil
	}
	t.live = false
}

// IsArmed reports whether a deadline is currently pending.
func (t *ServiceTimer) IsArmed() bool {
	return t.live
}

// Chan returns the fire channel for the current deadline, or nil when
// disarmed — safe to select on unconditionally either way.
func (t *ServiceTimer) Chan() <-chan time.Time {
	if t.clock == nil {
		return nil
	}
	return t.clock.C
}

package interview

import (
	"sync"
	"time"
)

// StallDetector fires once the voice channel has carried no inbound traffic
// for the timeout while armed. A zero timeout disables it.
type StallDetector struct {
	timeout time.Duration

	mu      sync.Mutex
	armed   bool
	timer   *time.Timer
	onStall func()
}

func NewStallDetector(timeout time.Duration) *StallDetector {
	return &StallDetector{timeout: timeout}
}

func (d *StallDetector) OnStall(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStall = callback
}

// Arm starts watching. Arming an armed detector restarts the countdown.
func (d *StallDetector) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = true
	d.resetLocked()
}

func (d *StallDetector) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// OnActivity restarts the countdown.
func (d *StallDetector) OnActivity() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed {
		d.resetLocked()
	}
}

func (d *StallDetector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

func (d *StallDetector) resetLocked() {
	if d.timeout <= 0 {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(d.timeout, func() {
		d.mu.Lock()
		if d.timer != timer || !d.armed {
			d.mu.Unlock()
			return
		}
		callback := d.onStall
		d.timer = nil
		d.armed = false
		d.mu.Unlock()

		if callback != nil {
			callback()
		}
	})
	d.timer = timer
}

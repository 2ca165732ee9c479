package session

import (
	"sync"
	"time"
)

// Detector ends an idle session. It is armed when a turn finishes and
// disarmed when the next one starts. A zero timeout disables it.
type Detector struct {
	timeout  time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	onExpire func()
}

func NewDetector(timeout time.Duration) *Detector {
	if timeout < 0 {
		timeout = 0
	}
	return &Detector{timeout: timeout}
}

func (d *Detector) OnExpire(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onExpire = callback
}

func (d *Detector) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.timeout == 0 {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(d.timeout, func() {
		d.mu.Lock()
		if d.timer != timer {
			d.mu.Unlock()
			return
		}
		callback := d.onExpire
		d.timer = nil
		d.mu.Unlock()

		if callback != nil {
			callback()
		}
	})
	d.timer = timer
}

func (d *Detector) Disarm() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

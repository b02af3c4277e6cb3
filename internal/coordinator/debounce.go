package coordinator

import (
	"sync"
	"time"
)

// debouncer runs fn immediately on the first call, then coalesces calls made
// during the cooldown into a single trailing run.
type debouncer struct {
	cooldown time.Duration
	fn       func()

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	closed  bool
}

func newDebouncer(cooldown time.Duration, fn func()) *debouncer {
	return &debouncer{cooldown: cooldown, fn: fn}
}

func (d *debouncer) Call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if d.cooldown <= 0 {
		go d.fn()
		return
	}
	if d.timer != nil {
		d.pending = true
		return
	}
	d.timer = time.AfterFunc(d.cooldown, d.expire)
	go d.fn()
}

func (d *debouncer) expire() {
	d.mu.Lock()
	if d.closed || !d.pending {
		d.timer = nil
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.timer = time.AfterFunc(d.cooldown, d.expire)
	d.mu.Unlock()

	d.fn()
}

func (d *debouncer) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Package progress carries percentage and status updates from concurrent
// workers to a single consumer.
package progress

import (
	"sync"
)

// Reporter receives progress updates. Percent values are 0..100.
type Reporter interface {
	Progress(percent int)
	Status(message string)
}

// Nop discards every update.
type Nop struct{}

// Progress implements Reporter.
func (Nop) Progress(int) {}

// Status implements Reporter.
func (Nop) Status(string) {}

// Funcs adapts plain functions to Reporter. Nil fields are ignored.
type Funcs struct {
	OnProgress func(percent int)
	OnStatus   func(message string)
}

// Progress implements Reporter.
func (f Funcs) Progress(percent int) {
	if f.OnProgress != nil {
		f.OnProgress(clamp(percent))
	}
}

// Status implements Reporter.
func (f Funcs) Status(message string) {
	if f.OnStatus != nil {
		f.OnStatus(message)
	}
}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Reporter) Reporter {
	if r == nil {
		return Nop{}
	}
	return r
}

type event struct {
	status  bool
	percent int
	message string
}

// Dispatcher serialises updates from many goroutines onto one sink. Updates
// are queued on a buffered channel and delivered in order by a single
// goroutine, so the sink never sees concurrent calls.
type Dispatcher struct {
	sink   Reporter
	events chan event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// DefaultQueueSize is the dispatcher's buffer length.
const DefaultQueueSize = 256

// NewDispatcher starts a dispatcher delivering to sink. A non-positive size
// uses DefaultQueueSize.
func NewDispatcher(sink Reporter, size int) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	d := &Dispatcher{
		sink:   OrNop(sink),
		events: make(chan event, size),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for ev := range d.events {
		if ev.status {
			d.sink.Status(ev.message)
		} else {
			d.sink.Progress(ev.percent)
		}
	}
}

func (d *Dispatcher) send(ev event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	d.events <- ev
}

// Progress implements Reporter.
func (d *Dispatcher) Progress(percent int) {
	d.send(event{percent: clamp(percent)})
}

// Status implements Reporter.
func (d *Dispatcher) Status(message string) {
	d.send(event{status: true, message: message})
}

// Close stops accepting updates, delivers the queued ones and waits for the
// sink to receive them. Updates sent after Close are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.events)
	}
	d.mu.Unlock()
	<-d.done
}

type scaled struct {
	next   Reporter
	lo, hi int
}

// Scale maps a sub-phase's 0..100 progress into [lo, hi] of r. Status
// messages pass through unchanged.
func Scale(r Reporter, lo, hi int) Reporter {
	if hi < lo {
		lo, hi = hi, lo
	}
	return scaled{next: OrNop(r), lo: clamp(lo), hi: clamp(hi)}
}

func (s scaled) Progress(percent int) {
	s.next.Progress(s.lo + clamp(percent)*(s.hi-s.lo)/100)
}

func (s scaled) Status(message string) {
	s.next.Status(message)
}

// Percent returns done/total as a 0..100 integer.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return clamp(done * 100 / total)
}

func clamp(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}

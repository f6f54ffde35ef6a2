// Package quiesce defers callbacks until concurrent readers have moved on.
//
// A Domain hands out read sections with Enter. A callback passed to
// Schedule runs on the domain's reclaimer goroutine once every read section
// that was open when it was scheduled has been exited. Sections entered
// afterwards do not hold it back.
//
// Example:
//
//	d := quiesce.NewDomain(nil)
//	defer d.Close()
//
//	r := d.Enter()
//	obj := load()
//	r.Exit()
//
//	d.Schedule(func() { release(obj) })
package quiesce

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/joshuapare/pageheap/internal/logger"
)

// ErrClosed is returned by Barrier once the domain has been closed.
var ErrClosed = errors.New("quiesce: domain closed")

// Scheduler runs a callback at some later point, exactly once.
type Scheduler interface {
	Schedule(fn func())
}

type immediate struct{}

func (immediate) Schedule(fn func()) { fn() }

// Immediate runs every callback synchronously inside Schedule.
var Immediate Scheduler = immediate{}

type callback struct {
	fn    func()
	epoch uint64
}

// Domain is a Scheduler whose callbacks wait for a grace period.
type Domain struct {
	log *slog.Logger

	mu      sync.Mutex
	epoch   uint64
	active  map[uint64]int // open read sections per epoch
	pending []callback     // in epoch order
	closed  bool
	ran     uint64

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Reader is an open read section. Exit must be called exactly once.
type Reader struct {
	d     *Domain
	epoch uint64
}

// NewDomain starts a domain and its reclaimer goroutine. A nil logger
// disables logging.
func NewDomain(log *slog.Logger) *Domain {
	if log == nil {
		log = logger.Discard
	}
	d := &Domain{
		log:    log,
		active: make(map[uint64]int),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Enter opens a read section.
func (d *Domain) Enter() Reader {
	d.mu.Lock()
	e := d.epoch
	d.active[e]++
	d.mu.Unlock()
	return Reader{d: d, epoch: e}
}

// Exit closes the read section.
func (r Reader) Exit() {
	d := r.d
	d.mu.Lock()
	if d.active[r.epoch]--; d.active[r.epoch] <= 0 {
		delete(d.active, r.epoch)
	}
	notify := len(d.pending) > 0
	d.mu.Unlock()
	if notify {
		d.notify()
	}
}

// Schedule queues fn to run after the current grace period. Scheduling on
// a closed domain panics.
func (d *Domain) Schedule(fn func()) {
	if !d.schedule(fn) {
		panic("quiesce: Schedule on closed Domain")
	}
}

func (d *Domain) schedule(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.pending = append(d.pending, callback{fn: fn, epoch: d.epoch})
	d.epoch++
	d.mu.Unlock()
	d.notify()
	return true
}

// Barrier waits until every callback scheduled before the call has run.
func (d *Domain) Barrier(ctx context.Context) error {
	ch := make(chan struct{})
	if !d.schedule(func() { close(ch) }) {
		return ErrClosed
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of callbacks still waiting.
func (d *Domain) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Completed returns the number of callbacks that have run.
func (d *Domain) Completed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ran
}

// Close stops accepting callbacks, waits for the queued ones to run and
// stops the reclaimer. It blocks for as long as older read sections stay
// open.
func (d *Domain) Close() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stop)
	})
	<-d.done
}

func (d *Domain) notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Domain) run() {
	defer close(d.done)

	stop := d.stop
	stopping := false
	for {
		select {
		case <-d.wake:
		case <-stop:
			stopping = true
			stop = nil
		}
		if left := d.reclaim(); stopping && left == 0 {
			return
		}
	}
}

// reclaim runs every callback whose grace period has elapsed and returns
// how many are still waiting.
func (d *Domain) reclaim() int {
	d.mu.Lock()
	oldest := d.epoch
	for e := range d.active {
		oldest = min(oldest, e)
	}
	n := 0
	for n < len(d.pending) && d.pending[n].epoch < oldest {
		n++
	}
	ready := d.pending[:n:n]
	d.pending = d.pending[n:]
	left := len(d.pending)
	d.mu.Unlock()

	for _, cb := range ready {
		cb.fn()
	}
	if n > 0 {
		d.mu.Lock()
		d.ran += uint64(n)
		d.mu.Unlock()
		d.log.Debug("grace period elapsed", "ran", n, "waiting", left)
	}
	return left
}

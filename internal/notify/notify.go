// Package notify delivers out-of-band alerts. Delivery is asynchronous and
// best-effort: a failed or dropped alert never affects trading logic.
package notify

import (
	"log"
	"sync"
)

// Sink is a pluggable alert destination.
type Sink interface {
	Send(message string) error
}

// Dispatcher fans alerts out to a sink from a background worker so callers
// never block on network delivery.
type Dispatcher struct {
	sink  Sink
	queue chan string

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher starts a dispatcher with the given queue depth. A nil sink
// turns the dispatcher into a no-op.
func NewDispatcher(sink Sink, depth int) *Dispatcher {
	if depth <= 0 {
		depth = 64
	}
	d := &Dispatcher{
		sink:  sink,
		queue: make(chan string, depth),
		done:  make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case msg := <-d.queue:
			if d.sink == nil {
				continue
			}
			if err := d.sink.Send(msg); err != nil {
				log.Printf("notify: send failed: %v", err)
			}
		}
	}
}

// Notify enqueues an alert without blocking. When the queue is full the alert
// is dropped.
func (d *Dispatcher) Notify(message string) {
	if d == nil {
		return
	}
	select {
	case d.queue <- message:
	default:
	}
}

// Close stops the worker. Queued alerts may be discarded.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

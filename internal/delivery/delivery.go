// Package delivery implements the asynchronous event pipeline between
// application goroutines and the configured sinks: an unbounded
// mutex+cond queue drained by a single worker goroutine (C3), and a
// per-sink retry worker (C4) spawned the first time a sink's Write
// returns false. It is kept free of any dependency on the root quill
// package (which depends on it) by defining its own narrow Event/Sink
// shapes; the facade package adapts between the two.
package delivery

import (
	"io"
	"sync"
	"time"

	"github.com/user/quill/internal/obslog"
	"github.com/user/quill/internal/timeutil"
	"github.com/user/quill/pkg/metrics"
)

// Event is the delivery-internal representation of a log event.
type Event struct {
	Level        int
	Subsystem    uint
	SubsystemStr string
	Message      string
	Function     string
	Time         time.Time
	TimeString   string
}

// Sink is the narrow contract the delivery worker needs from a
// destination: enough to fan events out, gate on level, and retry.
type Sink interface {
	Name() string
	MinLevel() int
	SetMinLevel(int)
	RetrySeconds() int
	Write(Event) bool
	Close() error
	Dump(io.Writer)
}

// Worker owns the sink registry and the single background goroutine that
// drains the event queue and fans each event out, spawning a retry
// worker (C4) for any sink whose Write fails.
type Worker struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []Event
	term  bool

	sinkMu    sync.RWMutex
	sinkOrder []string
	sinks     map[string]Sink
	retrying  map[string]*retryWorker

	metrics *metrics.Set

	stopped chan struct{}
}

// NewWorker creates a Worker and starts its delivery goroutine. recorder
// may be nil, in which case metrics are silently dropped.
func NewWorker(recorder *metrics.Set) *Worker {
	w := &Worker{
		sinks:    make(map[string]Sink),
		retrying: make(map[string]*retryWorker),
		metrics:  recorder,
		stopped:  make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)
	go w.run()
	return w
}

// SetMetrics installs recorder as the worker's metrics sink, replacing
// whatever was passed to NewWorker. Safe to call while the worker is
// running; recorder may be nil to disable metrics again.
func (w *Worker) SetMetrics(recorder *metrics.Set) {
	w.mu.Lock()
	w.metrics = recorder
	w.mu.Unlock()
}

// Enqueue appends _e to the delivery queue and wakes the worker. It never
// blocks on I/O; the critical section is an O(1) slice append.
func (w *Worker) Enqueue(e Event) {
	w.mu.Lock()
	w.queue = append(w.queue, e)
	n := len(w.queue)
	w.mu.Unlock()
	w.metrics.SetQueueDepth(n)
	w.cond.Signal()
}

// RecordDropped counts one event dropped by the facade before it ever
// reached the queue (unknown subsystem, below subsystem minimum level).
func (w *Worker) RecordDropped(reason string) {
	w.metrics.RecordDropped(reason)
}

// AddSink registers _sink for fanout under _ref, or under _sink.Name() if
// _ref is empty.
func (w *Worker) AddSink(sink Sink, ref string) {
	if ref == "" {
		ref = sink.Name()
	}
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()
	if _, exists := w.sinks[ref]; !exists {
		w.sinkOrder = append(w.sinkOrder, ref)
	}
	w.sinks[ref] = sink
	w.metrics.SetSinkUp(ref, true)
}

// RemoveSink unregisters and closes the sink registered under _ref,
// joining its retry worker first if one is active. Reports whether a
// sink was found.
func (w *Worker) RemoveSink(ref string) bool {
	w.sinkMu.Lock()
	sink, ok := w.sinks[ref]
	if !ok {
		w.sinkMu.Unlock()
		return false
	}
	rw := w.retrying[ref]
	delete(w.sinks, ref)
	delete(w.retrying, ref)
	for i, n := range w.sinkOrder {
		if n == ref {
			w.sinkOrder = append(w.sinkOrder[:i], w.sinkOrder[i+1:]...)
			break
		}
	}
	w.sinkMu.Unlock()
	if rw != nil {
		rw.join()
	}
	sink.Close()
	return true
}

// SetMinLevel changes the minimum level accepted by the sink registered
// under _ref. Reports whether the sink was found.
func (w *Worker) SetMinLevel(ref string, level int) bool {
	w.sinkMu.RLock()
	sink, ok := w.sinks[ref]
	w.sinkMu.RUnlock()
	if !ok {
		return false
	}
	sink.SetMinLevel(level)
	return true
}

// DumpSink writes the named sink's configuration summary to w. Reports
// whether the sink was found.
func (w *Worker) DumpSink(ref string, out io.Writer) bool {
	w.sinkMu.RLock()
	sink, ok := w.sinks[ref]
	w.sinkMu.RUnlock()
	if !ok {
		return false
	}
	sink.Dump(out)
	return true
}

// SinkNames returns the registered sink names in insertion order.
func (w *Worker) SinkNames() []string {
	w.sinkMu.RLock()
	defer w.sinkMu.RUnlock()
	out := make([]string, len(w.sinkOrder))
	copy(out, w.sinkOrder)
	return out
}

// Terminate drains the queue and every active retry worker before
// returning, mirroring log_thread::terminate's join-and-drain semantics.
func (w *Worker) Terminate() {
	w.mu.Lock()
	w.term = true
	w.mu.Unlock()
	w.cond.Signal()
	<-w.stopped
}

func (w *Worker) run() {
	log := obslog.Named("delivery")
	for {
		w.mu.Lock()
		local := w.queue
		w.queue = nil
		w.mu.Unlock()
		w.metrics.SetQueueDepth(0)

		for _, e := range local {
			w.deliver(e)
		}

		w.mu.Lock()
		if w.term && len(w.queue) == 0 {
			w.mu.Unlock()
			if w.reapRetryWorkers() {
				// retry workers still draining: avoid a tight loop, but
				// don't wait on the condvar either, since no one signals
				// it when a retry worker finishes.
				time.Sleep(time.Second)
				continue
			}
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				log.Debug().Msg("delivery worker stopped")
				close(w.stopped)
				return
			}
			w.mu.Unlock()
			continue
		}
		if len(w.queue) == 0 {
			w.cond.Wait()
		}
		w.mu.Unlock()
	}
}

// deliver fans _e out to every registered sink, in insertion order. A
// sink currently in retry mode has the event appended to that worker's
// queue instead of being written directly; a direct write that fails
// spawns a new retry worker.
func (w *Worker) deliver(e Event) {
	e.TimeString = timeutil.FormatTime(e.Time)

	for _, name := range w.SinkNames() {
		w.sinkMu.RLock()
		sink, ok := w.sinks[name]
		rw := w.retrying[name]
		w.sinkMu.RUnlock()
		if !ok {
			continue
		}

		if rw != nil {
			if rw.active() {
				rw.enqueue(e)
				continue
			}
			// queue drained: rejoin normal operation.
			rw.join()
			w.sinkMu.Lock()
			delete(w.retrying, name)
			w.sinkMu.Unlock()
			w.metrics.SetSinkUp(name, true)
			w.metrics.SetRetryWorkers(len(w.retrying))
		}

		if sink.Write(e) {
			w.metrics.RecordDelivered(name)
			continue
		}

		nrw := newRetryWorker(sink, name, w.metrics)
		nrw.enqueue(e)
		w.sinkMu.Lock()
		w.retrying[name] = nrw
		w.sinkMu.Unlock()
		w.metrics.SetSinkUp(name, false)
		w.metrics.SetRetryWorkers(len(w.retrying))
	}
}

// reapRetryWorkers joins every retry worker whose queue has drained and
// reports whether any are still active.
func (w *Worker) reapRetryWorkers() bool {
	w.sinkMu.Lock()
	defer w.sinkMu.Unlock()
	stillActive := false
	for name, rw := range w.retrying {
		if rw.active() {
			stillActive = true
			continue
		}
		rw.join()
		delete(w.retrying, name)
		w.metrics.SetSinkUp(name, true)
	}
	w.metrics.SetRetryWorkers(len(w.retrying))
	return stillActive
}

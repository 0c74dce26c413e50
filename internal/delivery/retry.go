package delivery

import (
	"sync"
	"time"

	"github.com/user/quill/internal/obslog"
	"github.com/user/quill/pkg/metrics"
)

// expirySeconds is the level-keyed expiry ceiling a retry worker applies
// after each drain attempt: an event older than its level's ceiling is
// dropped rather than retried forever. severe is capped at 30 days
// rather than left unbounded (the original's std::time_t::max()) — see
// DESIGN.md's Open Question on unbounded severe accumulation.
var expirySeconds = [...]int64{
	0: 900,            // finest
	1: 900,            // finer
	2: 1800,           // fine
	3: 1800,           // config
	4: 3600,           // info
	5: 36000,          // warning
	6: 30 * 24 * 3600, // severe (REDESIGNED: capped, not unbounded)
}

var levelNames = [...]string{"finest", "finer", "fine", "config", "info", "warning", "severe"}

func levelName(l int) string {
	if l >= 0 && l < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// retryWorker redelivers events for a single sink that failed a direct
// write, one per sink, self-terminating once its queue drains after an
// expiry pass.
type retryWorker struct {
	sink    Sink
	name    string
	metrics *metrics.Set

	mu    sync.Mutex
	queue []Event

	done chan struct{}
}

func newRetryWorker(sink Sink, name string, m *metrics.Set) *retryWorker {
	rw := &retryWorker{
		sink:    sink,
		name:    name,
		metrics: m,
		done:    make(chan struct{}),
	}
	obslog.Named("retry").Info().Str("sink", name).Msg("starting retry worker")
	go rw.run()
	return rw
}

// active reports whether the retry worker's queue is non-empty.
func (r *retryWorker) active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue) > 0
}

// enqueue appends _e to the retry queue, preserving submission order.
func (r *retryWorker) enqueue(e Event) {
	r.mu.Lock()
	r.queue = append(r.queue, e)
	r.mu.Unlock()
}

// join blocks until the worker has terminated.
func (r *retryWorker) join() {
	<-r.done
}

// expired reports whether e is older than its level's expiry ceiling as of
// now.
func expired(e Event, now time.Time) bool {
	ceiling := int64(3600)
	if e.Level >= 0 && e.Level < len(expirySeconds) {
		ceiling = expirySeconds[e.Level]
	}
	return now.Sub(e.Time) > time.Duration(ceiling)*time.Second
}

func (r *retryWorker) run() {
	log := obslog.Named("retry")
	for {
		time.Sleep(time.Duration(r.sink.RetrySeconds()) * time.Second)

		for {
			r.mu.Lock()
			if len(r.queue) == 0 {
				r.mu.Unlock()
				break
			}
			head := r.queue[0]
			r.mu.Unlock()

			// An already-stale head is dropped without ever reaching the
			// sink's Write -- a blocked or permanently failing sink must
			// not keep attempting delivery of an event past its expiry
			// ceiling just because it never got a chance to retry it.
			if expired(head, time.Now()) {
				r.mu.Lock()
				r.queue = r.queue[1:]
				r.mu.Unlock()
				r.metrics.RecordExpired(r.name, levelName(head.Level), 1)
				log.Warn().Str("sink", r.name).Str("level", levelName(head.Level)).
					Msg("expired retry-queue entry before delivery attempt")
				continue
			}

			if !r.sink.Write(head) {
				break
			}
			r.metrics.RecordDelivered(r.name)

			r.mu.Lock()
			r.queue = r.queue[1:]
			r.mu.Unlock()
		}

		now := time.Now()
		expiredByLevel := map[string]int{}
		r.mu.Lock()
		kept := r.queue[:0]
		for _, e := range r.queue {
			if expired(e, now) {
				expiredByLevel[levelName(e.Level)]++
				continue
			}
			kept = append(kept, e)
		}
		r.queue = kept
		empty := len(r.queue) == 0
		r.mu.Unlock()

		for lvl, n := range expiredByLevel {
			r.metrics.RecordExpired(r.name, lvl, n)
			log.Warn().Str("sink", r.name).Str("level", lvl).Int("count", n).
				Msg("expired retry-queue entries")
		}

		if empty {
			log.Info().Str("sink", r.name).Msg("stopping retry worker")
			close(r.done)
			return
		}
	}
}

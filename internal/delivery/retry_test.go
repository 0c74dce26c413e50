package delivery

import (
	"testing"
	"time"
)

// alwaysFailSink never accepts a write, so any event handed to a
// retryWorker can only ever be cleared by expiry, never by success.
type alwaysFailSink struct{ recordingSink }

func (s *alwaysFailSink) Write(Event) bool {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	return false
}

// TestExpiryDropsStaleEventWithoutDelivering is spec.md section 8
// scenario 3: an event older than its level's expiry ceiling is dropped
// by the retry worker rather than retried forever.
func TestExpiryDropsStaleEventWithoutDelivering(t *testing.T) {
	sink := &alwaysFailSink{recordingSink: recordingSink{}}
	rw := newRetryWorker(sink, "blocked", nil)
	defer func() {
		// the worker should self-terminate once the stale event is
		// expired away; give it a moment and join.
		waitFor(t, time.Second, func() bool {
			select {
			case <-rw.done:
				return true
			default:
				return false
			}
		})
		rw.join()
	}()

	stale := Event{
		Level:   0, // finest: expiry ceiling 900s
		Message: "too old",
		Time:    time.Now().Add(-901 * time.Second),
	}
	rw.enqueue(stale)

	waitFor(t, time.Second, func() bool { return !rw.active() })

	if n := sink.attemptCount(); n != 0 {
		t.Fatalf("expected the expired event to never reach Write, got %d attempts", n)
	}
}

// TestExpiryKeepsFreshEventAndKeepsRetrying checks the companion case:
// an event within its expiry ceiling survives repeated failed attempts
// instead of being dropped. The sink never succeeds and the event is
// severe (no practical expiry), so the worker's goroutine necessarily
// outlives this test -- the same permanently-broken-sink accumulation
// noted in DESIGN.md's Open Questions.
func TestExpiryKeepsFreshEventAndKeepsRetrying(t *testing.T) {
	sink := &alwaysFailSink{recordingSink: recordingSink{}}
	rw := newRetryWorker(sink, "blocked", nil)

	fresh := Event{
		Level:   6, // severe: no practical expiry
		Message: "keep me",
		Time:    time.Now(),
	}
	rw.enqueue(fresh)

	waitFor(t, time.Second, func() bool { return sink.attemptCount() >= 2 })

	if !rw.active() {
		t.Fatal("expected the fresh event to remain queued across failed attempts")
	}
}

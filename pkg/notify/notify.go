// Package notify carries deferred notifications — xrun counts, hang
// detection, fatal driver errors — from the processing, done and driver
// threads to the callback/watchdog thread, which is the only thread
// allowed to invoke client-facing observer callbacks. Routing these
// through a lock-free queue instead of calling the observer directly
// from a real-time thread keeps an arbitrarily slow client callback off
// the audio I/O path.
package notify

import "code.hybscloud.com/lfq"

// Kind identifies what happened.
type Kind int

const (
	KindXrunProc Kind = iota // overrun/underrun in the buffered processing queues
	KindXrunDone             // overrun/underrun in the done (visualization/recording) queues
	KindXrunRT               // driver callback re-entered while a real-time process call was still running
	KindFatal                // an unrecoverable driver or processing error
	KindHang                 // the watchdog observed no buffer switches within its timeout
)

func (k Kind) String() string {
	switch k {
	case KindXrunProc:
		return "xrun_proc"
	case KindXrunDone:
		return "xrun_done"
	case KindXrunRT:
		return "xrun_rt"
	case KindFatal:
		return "fatal"
	case KindHang:
		return "hang"
	default:
		return "unknown"
	}
}

// Event is one posted notification.
type Event struct {
	Kind Kind
	Err  error
}

// Queue is a bounded multi-producer single-consumer notification queue.
// Producers are the processing thread, the done thread and the driver
// callback; the single consumer is the watchdog thread.
type Queue struct {
	q *lfq.MPSC[Event]
}

// New creates a notification queue with room for capacity pending
// events, rounded up to the next power of two by the underlying queue.
func New(capacity int) *Queue {
	return &Queue{q: lfq.NewMPSC[Event](capacity)}
}

// Post enqueues an event. It reports false if the queue is full, in
// which case the event is dropped: a saturated notification queue means
// the watchdog thread itself is stuck, and no amount of buffering fixes
// that.
func (n *Queue) Post(e Event) bool {
	return n.q.Enqueue(&e) == nil
}

// Poll removes and returns the oldest pending event, if any.
func (n *Queue) Poll() (Event, bool) {
	e, err := n.q.Dequeue()
	if err != nil {
		return Event{}, false
	}
	return e, true
}

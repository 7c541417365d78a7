// AckQueue implements the outbound retransmission protocol handshaking
// drivers need: one message in flight at a time, coalesced by type, retried
// on timeout up to a limit before the owning display is marked failed.
//
// Uses a single send-confirm timer, re-armed on every transmission and
// cancelled on acknowledgement, the shape a
// single-outstanding-frame-with-retry protocol handshake needs, named here
// in the daemon's own timeout/missing-count vocabulary.
package braille

import (
	"sync"
	"time"

	"brld/internal/scheduler"
)

// MessageType distinguishes coalescable outbound message kinds (e.g. a
// TextCells write vs a status-cell update).
type MessageType int

type outboundMessage struct {
	Type    MessageType
	Payload []byte
}

// AckQueue is the per-endpoint outbound FIFO with type-coalescing and
// timeout-driven retransmission.
type AckQueue struct {
	mu    sync.Mutex
	sched *scheduler.Scheduler
	write func(payload []byte) error

	timeout      time.Duration
	missingCount int
	missingLimit int
	onFailed     func()

	current *outboundMessage
	pending map[MessageType]*outboundMessage
	order   []MessageType

	alarm scheduler.AlarmHandle
}

// NewAckQueue constructs an AckQueue that writes through write, retries
// every timeout, and calls onFailed once missingLimit consecutive timeouts
// have elapsed without an acknowledgement.
func NewAckQueue(sched *scheduler.Scheduler, write func([]byte) error, timeout time.Duration, missingLimit int, onFailed func()) *AckQueue {
	return &AckQueue{
		sched:        sched,
		write:        write,
		timeout:      timeout,
		missingLimit: missingLimit,
		onFailed:     onFailed,
		pending:      make(map[MessageType]*outboundMessage),
	}
}

// Enqueue queues payload for messageType. If nothing is currently in
// flight, it is written immediately; otherwise it replaces (coalesces) any
// already-queued message of the same type, last-enqueued-wins.
func (q *AckQueue) Enqueue(messageType MessageType, payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil {
		q.current = &outboundMessage{Type: messageType, Payload: payload}
		q.transmitLocked()
		return
	}
	if _, queued := q.pending[messageType]; !queued {
		q.order = append(q.order, messageType)
	}
	q.pending[messageType] = &outboundMessage{Type: messageType, Payload: payload}
}

func (q *AckQueue) transmitLocked() {
	if q.write != nil {
		_ = q.write(q.current.Payload)
	}
	q.sched.Cancel(q.alarm)
	q.alarm = q.sched.NewAlarmIn(q.timeout, q.onTimeout, nil)
}

func (q *AckQueue) onTimeout(scheduler.AlarmHandle, any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return
	}
	q.missingCount++
	if q.missingCount >= q.missingLimit {
		q.current = nil
		if q.onFailed != nil {
			q.onFailed()
		}
		return
	}
	q.transmitLocked()
}

// OnAcknowledge clears the outstanding timer, resets the missing-ack
// counter, and advances to the next coalesced message, if any.
func (q *AckQueue) OnAcknowledge() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.missingCount = 0
	q.sched.Cancel(q.alarm)
	q.advanceLocked()
}

func (q *AckQueue) advanceLocked() {
	if len(q.order) == 0 {
		q.current = nil
		return
	}
	mtype := q.order[0]
	q.order = q.order[1:]
	msg := q.pending[mtype]
	delete(q.pending, mtype)
	q.current = msg
	q.transmitLocked()
}

// Outstanding reports whether a message is currently awaiting
// acknowledgement.
func (q *AckQueue) Outstanding() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current != nil
}

// MissingCount reports the current consecutive-timeout count.
func (q *AckQueue) MissingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.missingCount
}

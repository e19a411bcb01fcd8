package broadcast

import (
	"sync"
)

// Queue is a Subscriber backed by a bounded buffer and one writer goroutine.
// Send never blocks; a full buffer drops the message.
type Queue struct {
	id      string
	ch      chan []byte
	deliver func([]byte) error
	onClose func()

	closeOnce sync.Once
	done      chan struct{}
	stopped   chan struct{}
	mu        sync.RWMutex
	closed    bool
	err       error
}

// NewQueue starts a queue that hands each payload to deliver. A deliver
// error stops the queue. onClose runs once the writer exits, for either
// reason; it may be nil and must not block.
func NewQueue(id string, capacity int, deliver func([]byte) error, onClose func()) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		id:      id,
		ch:      make(chan []byte, capacity),
		deliver: deliver,
		onClose: onClose,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// ID returns the subscriber id
func (q *Queue) ID() string {
	return q.id
}

// Send offers a payload without blocking
func (q *Queue) Send(payload []byte) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- payload:
		return true
	default:
		return false
	}
}

// Close stops the writer. Payloads still buffered are discarded.
func (q *Queue) Close() error {
	q.shutdown(nil)
	<-q.stopped
	return nil
}

// Done is closed once the queue stops for any reason
func (q *Queue) Done() <-chan struct{} {
	return q.stopped
}

// Err returns the delivery error that stopped the queue, if any
func (q *Queue) Err() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.err
}

func (q *Queue) shutdown(err error) {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.err = err
		q.mu.Unlock()
		close(q.done)
	})
}

func (q *Queue) run() {
	defer func() {
		if q.onClose != nil {
			q.onClose()
		}
		close(q.stopped)
	}()

	for {
		select {
		case <-q.done:
			return
		case payload := <-q.ch:
			if err := q.deliver(payload); err != nil {
				q.shutdown(err)
				return
			}
		}
	}
}

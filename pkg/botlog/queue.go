package botlog

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	stateDirect   = "direct"
	stateIdle     = "idle"
	stateDraining = "draining"
	stateStopped  = "stopped"
)

const (
	queueIdle int32 = iota
	queueDraining
	queueStopped
)

type queueItem struct {
	req  *Request
	body string
}

// drainQueue is an unbounded FIFO drained by exactly one goroutine, which
// delivers one item at a time and then sleeps the configured interval.
// The interval is measured after the send completes, so there is always at
// least that much quiet between consecutive remote calls regardless of
// send latency. Producers never block.
type drainQueue struct {
	interval time.Duration
	maxLen   int // 0 = unbounded; >0 drops the oldest entry on overflow

	deliver func(queueItem)

	mu    sync.Mutex
	items []queueItem

	wake     chan struct{}
	stopCh   chan struct{}
	stopDone chan struct{}
	stopOnce sync.Once

	state   int32
	dropped uint64
}

func newDrainQueue(interval time.Duration, maxLen int, deliver func(queueItem)) *drainQueue {
	q := &drainQueue{
		interval: interval,
		maxLen:   maxLen,
		deliver:  deliver,
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		stopDone: make(chan struct{}),
	}
	go q.loop()
	return q
}

// enqueue appends to the tail and wakes the drain goroutine. When the
// optional cap evicts the oldest entry it is returned so the caller can
// report the drop.
func (q *drainQueue) enqueue(it queueItem) (evicted *queueItem, err error) {
	select {
	case <-q.stopCh:
		return nil, ErrClosed
	default:
	}

	q.mu.Lock()
	if q.maxLen > 0 && len(q.items) >= q.maxLen {
		old := q.items[0]
		q.items = q.items[1:]
		evicted = &old
		atomic.AddUint64(&q.dropped, 1)
	}
	q.items = append(q.items, it)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return evicted, nil
}

func (q *drainQueue) pending() int {
	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()
	return n
}

func (q *drainQueue) stateName() string {
	switch atomic.LoadInt32(&q.state) {
	case queueDraining:
		return stateDraining
	case queueStopped:
		return stateStopped
	default:
		return stateIdle
	}
}

// stop joins the drain goroutine: any in-flight send finishes, then no
// further sends happen. Remaining entries are discarded, not flushed.
// Safe to call repeatedly and from any goroutine.
func (q *drainQueue) stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	<-q.stopDone

	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

func (q *drainQueue) loop() {
	defer func() {
		atomic.StoreInt32(&q.state, queueStopped)
		close(q.stopDone)
	}()
	for {
		it, ok := q.next()
		if !ok {
			return
		}
		q.deliver(it)
		if !q.pause() {
			return
		}
	}
}

// next pops the head, parking on the wake channel while the queue is
// empty. The head is removed before the send attempt; a failed send is
// reported and dropped, never re-queued.
func (q *drainQueue) next() (queueItem, bool) {
	for {
		select {
		case <-q.stopCh:
			return queueItem{}, false
		default:
		}

		q.mu.Lock()
		if len(q.items) > 0 {
			it := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			atomic.StoreInt32(&q.state, queueDraining)
			return it, true
		}
		q.mu.Unlock()

		atomic.StoreInt32(&q.state, queueIdle)
		select {
		case <-q.stopCh:
			return queueItem{}, false
		case <-q.wake:
		}
	}
}

func (q *drainQueue) pause() bool {
	if q.interval <= 0 {
		return true
	}
	t := time.NewTimer(q.interval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-q.stopCh:
		return false
	}
}

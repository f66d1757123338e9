package rtc

import (
	"sync/atomic"

	"github.com/pion/ion-mt/pkg/packet"
)

// Queue is a bounded FIFO of packets. Push never blocks; overflow
// drops and counts.
type Queue struct {
	ch      chan *packet.Info
	dropped uint64
}

// NewQueue returns a queue holding at most size packets
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan *packet.Info, size)}
}

// Push enqueues p, reporting false when the queue is full
func (q *Queue) Push(p *packet.Info) bool {
	select {
	case q.ch <- p:
		return true
	default:
		atomic.AddUint64(&q.dropped, 1)
		return false
	}
}

// Chan exposes the drain side
func (q *Queue) Chan() <-chan *packet.Info {
	return q.ch
}

// Len returns the number of queued packets
func (q *Queue) Len() int {
	return len(q.ch)
}

// Dropped returns the overflow counter
func (q *Queue) Dropped() uint64 {
	return atomic.LoadUint64(&q.dropped)
}

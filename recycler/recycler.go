package recycler

import (
	"sync"

	"github.com/bitfunnel/bfcore/bufpool"
	"github.com/bitfunnel/bfcore/slicebuf"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/syncqueue"
)

// Recyclable is one item handed to the recycler: a slice, a vector of
// retired slice-buffer byte slices, or both, paired with the token
// tracker snapshot taken at the moment they were retired.
type Recyclable struct {
	Slice   *slicebuf.Slice
	Buffers [][]byte
	Tracker *Tracker
}

// Recycler is a bounded blocking queue with a single consumer
// goroutine, built on syncqueue.OrderedQueue. Sequencing isn't
// semantically required here (recycling order doesn't matter), but
// the queue gives bounded-capacity backpressure and close-then-drain
// shutdown.
//
// On dequeue, the consumer waits for the item's token tracker to
// drain, then releases the slice (dropping its blobs and
// back-pointer registration) and returns every buffer to the
// allocator.
type Recycler struct {
	allocator *bufpool.Allocator
	queue     *syncqueue.OrderedQueue
	done      chan struct{}

	mu  sync.Mutex
	seq int
}

// New creates a Recycler backed by allocator, with room for
// queueDepth pending items before Enqueue blocks.
func New(allocator *bufpool.Allocator, queueDepth int) *Recycler {
	r := &Recycler{
		allocator: allocator,
		queue:     syncqueue.NewOrderedQueue(queueDepth),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Enqueue submits item for recycling. It blocks if the queue is at
// capacity, and panics if the recycler has been shut down: enqueueing
// to a closed recycler is a programming error.
func (r *Recycler) Enqueue(item Recyclable) {
	r.mu.Lock()
	seq := r.seq
	r.seq++
	r.mu.Unlock()

	if err := r.queue.Insert(seq, item); err != nil {
		log.Panicf("recycler: enqueue after shutdown: %v", err)
	}
}

func (r *Recycler) run() {
	defer close(r.done)
	for {
		val, ok, err := r.queue.Next()
		if err != nil {
			log.Panicf("recycler: queue error: %v", err)
		}
		if !ok {
			return
		}
		item := val.(Recyclable)
		if item.Tracker != nil {
			item.Tracker.WaitForCompletion()
		}
		if item.Slice != nil {
			if !item.Slice.FullyExpired() {
				log.Panicf("recycler: recycling a non-fully-expired slice")
			}
			// A long-lived holder (e.g. a backup writer) may still
			// reference the slice even though every token from the
			// tracker's snapshot has drained; destruction waits for
			// both.
			item.Slice.WaitZeroRef()
			item.Slice.Recycle()
		}
		for _, buf := range item.Buffers {
			r.allocator.Release(buf)
		}
	}
}

// Shutdown closes the queue and waits for the consumer to drain every
// already-enqueued item.
func (r *Recycler) Shutdown() {
	r.queue.Close(nil)
	<-r.done
}

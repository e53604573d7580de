// Copyright 2023 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package pubsub

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Batcher is the background persistence writer (C6). Requests enqueue
// published items here and return immediately; a single ticker-driven
// worker drains the two FIFOs into the backend, retrying failed writes
// forever by re-enqueuing to the tail of the same queue.
//
// itemsToAdd and itemsToDelete are plain mutex-guarded slices rather than a
// lock-free queue: queueItemToRemove and cancelQueuedItems both need a
// linear scan-and-splice by item identity, which a channel cannot offer,
// and the batcher's own lock is never held across backend I/O or across the
// node lock, so contention is limited to the rare overlap between a request
// enqueueing and the ticker draining.
type Batcher struct {
	backend   Backend
	period    time.Duration
	batchSize int

	mu   sync.Mutex
	add  []*PublishedItem
	del  []*PublishedItem

	stop chan struct{}
	done chan struct{}
}

var (
	queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pubsub_batcher_queue_depth",
		Help: "Number of published items waiting to be flushed, by queue.",
	}, []string{"queue"})
	flushFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pubsub_batcher_flush_failures_total",
		Help: "Number of backend write failures that were re-queued for retry.",
	})
)

func init() {
	prometheus.MustRegister(queueDepth, flushFailures)
}

// NewBatcher constructs a Batcher against backend, flushing up to batchSize
// items per queue every period. period <= 0 defaults to 120s, batchSize <= 0
// defaults to 50, matching the engine's stated defaults.
func NewBatcher(backend Backend, period time.Duration, batchSize int) *Batcher {
	if period <= 0 {
		period = 120 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Batcher{
		backend:   backend,
		period:    period,
		batchSize: batchSize,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// QueueItemToAdd enqueues item for a durable write.
func (b *Batcher) QueueItemToAdd(item *PublishedItem) {
	b.mu.Lock()
	b.add = append(b.add, item)
	b.mu.Unlock()
	queueDepth.WithLabelValues("add").Inc()
}

// QueueItemToRemove enqueues item for a durable delete. If item is still
// sitting in the add queue (its insert never reached storage), it is
// cancelled there instead of being queued twice.
func (b *Batcher) QueueItemToRemove(item *PublishedItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, it := range b.add {
		if sameItem(it, item) {
			b.add = append(b.add[:i], b.add[i+1:]...)
			queueDepth.WithLabelValues("add").Dec()
			return
		}
	}
	b.del = append(b.del, item)
	queueDepth.WithLabelValues("delete").Inc()
}

// CancelQueuedItems removes every item in items from both queues, used when
// the owning node is deleted.
func (b *Batcher) CancelQueuedItems(items []*PublishedItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add = removeMatching(b.add, items, "add")
	b.del = removeMatching(b.del, items, "delete")
}

func removeMatching(queue []*PublishedItem, cancel []*PublishedItem, label string) []*PublishedItem {
	out := queue[:0]
	for _, it := range queue {
		keep := true
		for _, c := range cancel {
			if sameItem(it, c) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, it)
		} else {
			queueDepth.WithLabelValues(label).Dec()
		}
	}
	return out
}

func sameItem(a, b *PublishedItem) bool {
	return a.NodeID == b.NodeID && a.ItemID == b.ItemID
}

// Start launches the periodic flush worker.
func (b *Batcher) Start() {
	go b.loop()
}

func (b *Batcher) loop() {
	defer close(b.done)
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.flush(b.batchSize, true)
		}
	}
}

// Shutdown stops the periodic worker and drains whatever remains in both
// queues synchronously, with no retry.
func (b *Batcher) Shutdown() {
	close(b.stop)
	<-b.done
	for {
		b.mu.Lock()
		empty := len(b.add) == 0 && len(b.del) == 0
		b.mu.Unlock()
		if empty {
			return
		}
		b.flush(len(b.add)+len(b.del), false)
	}
}

// flush drains up to n entries from each queue, invoking the backend. When
// retry is true, a failed write is re-enqueued to the tail of its queue;
// when false (final shutdown drain) failures are dropped.
func (b *Batcher) flush(n int, retry bool) {
	adds := b.drain(&b.add, n, "add")
	for _, it := range adds {
		if err := b.backend.CreatePublishedItem(it); err != nil {
			flushFailures.Inc()
			if retry {
				b.mu.Lock()
				b.add = append(b.add, it)
				b.mu.Unlock()
				queueDepth.WithLabelValues("add").Inc()
			}
		}
	}

	dels := b.drain(&b.del, n, "delete")
	for _, it := range dels {
		if err := b.backend.RemovePublishedItem(it); err != nil {
			flushFailures.Inc()
			if retry {
				b.mu.Lock()
				b.del = append(b.del, it)
				b.mu.Unlock()
				queueDepth.WithLabelValues("delete").Inc()
			}
		}
	}
}

func (b *Batcher) drain(queue *[]*PublishedItem, n int, label string) []*PublishedItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(*queue) {
		n = len(*queue)
	}
	out := (*queue)[:n]
	*queue = (*queue)[n:]
	queueDepth.WithLabelValues(label).Sub(float64(len(out)))
	return out
}

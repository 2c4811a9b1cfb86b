package storage

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// writerQueueCap bounds how many pending batches the async writer will
// buffer before Put blocks, decoupling BFS/retrograde producers from the
// single goroutine that owns write ordering.
const writerQueueCap = 1000

type writeJob struct {
	records         []Record
	allowDuplicates bool
	ack             chan struct{} // closed once this job (and everything before it) is applied
}

// AsyncWriter serializes InsertBatch calls onto a single goroutine so
// producers (worker pool goroutines doing BFS expansion or retrograde
// evaluation) never contend with each other or with Badger's own internal
// compaction for write-transaction ordering.
type AsyncWriter struct {
	store *Store
	log   logr.Logger

	jobs chan writeJob
	done chan struct{}

	mu       sync.Mutex
	err      error
	inserted uint64

	closeOnce sync.Once
}

// NewAsyncWriter starts the writer goroutine against store.
func NewAsyncWriter(store *Store, log logr.Logger) *AsyncWriter {
	w := &AsyncWriter{
		store: store,
		log:   log,
		jobs:  make(chan writeJob, writerQueueCap),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for job := range w.jobs {
		if len(job.records) > 0 {
			n, err := w.store.InsertBatch(job.records, job.allowDuplicates)
			w.mu.Lock()
			w.inserted += uint64(n)
			if err != nil && w.err == nil {
				w.err = err
				w.log.Error(err, "async writer: batch insert failed, latching error")
			}
			w.mu.Unlock()
		}
		if job.ack != nil {
			close(job.ack)
		}
	}
}

// Put enqueues a batch for asynchronous insertion, blocking if the queue is
// full (backpressure). It returns immediately with any previously latched
// error without enqueueing, so a stuck writer fails fast instead of
// accepting more work it will never flush.
func (w *AsyncWriter) Put(records []Record, allowDuplicates bool) error {
	if err := w.Err(); err != nil {
		return err
	}
	w.jobs <- writeJob{records: records, allowDuplicates: allowDuplicates}
	return nil
}

// Err returns the first error encountered by the writer goroutine, if any.
func (w *AsyncWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Inserted returns the running total of rows the writer has inserted.
func (w *AsyncWriter) Inserted() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inserted
}

// Close drains the queue and stops the writer goroutine. It does not close
// the underlying store. Safe to call more than once.
func (w *AsyncWriter) Close() error {
	w.closeOnce.Do(func() {
		close(w.jobs)
	})
	<-w.done
	return w.Err()
}

// WaitUntilEmpty blocks until every batch enqueued before this call has
// been applied (in FIFO order), then flushes the store and returns any
// latched writer error.
func (w *AsyncWriter) WaitUntilEmpty() error {
	if err := w.Err(); err != nil {
		return err
	}

	ack := make(chan struct{})
	select {
	case w.jobs <- writeJob{ack: ack}:
	case <-w.done:
		return fmt.Errorf("storage: writer closed while waiting for drain: %w", w.Err())
	}

	select {
	case <-ack:
	case <-w.done:
		return fmt.Errorf("storage: writer closed while waiting for drain: %w", w.Err())
	}

	if err := w.Err(); err != nil {
		return err
	}
	return w.store.Flush()
}

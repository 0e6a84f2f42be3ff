package actor

import "sync/atomic"

// TaskCounter is the global in-flight counter described in spec.md §4.1: it
// is incremented when a deferred request is enqueued and decremented when
// its reply resolves, and is used by the archiver's quiescence loop. It is
// owned per-crawl here rather than as a single process-wide static (see
// spec.md §9 design notes), so an embedder can run more than one crawl.
type TaskCounter struct {
	n int64
}

// NewTaskCounter returns a zeroed counter.
func NewTaskCounter() *TaskCounter {
	return &TaskCounter{}
}

func (c *TaskCounter) incr() { atomic.AddInt64(&c.n, 1) }
func (c *TaskCounter) decr() { atomic.AddInt64(&c.n, -1) }

// Load returns the current in-flight count. Monotone non-negative.
func (c *TaskCounter) Load() int64 { return atomic.LoadInt64(&c.n) }

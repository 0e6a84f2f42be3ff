package model

import (
	"errors"
	"io"
	"sync"
)

// ErrConsumerLagged is the terminal error delivered to a broadcast consumer
// whose queue overflowed because it could not keep pace with the producer.
//
// This implements spec.md §9 open question (a): on overflow we terminate the
// lagging consumer with an error rather than blocking the producer or
// silently dropping chunks for it. Other consumers are unaffected.
var ErrConsumerLagged = errors.New("body consumer lagged behind producer and was dropped")

// BodyChunk is one unit of a broadcast body stream: Data for a regular chunk,
// End for normal completion, or Err for a terminal failure. A chunk with Err
// set may also have End set; either one ends the stream.
type BodyChunk struct {
	Data []byte
	End  bool
	Err  *BodyReadError
}

// Body is a multi-consumer broadcast of a response's chunk sequence. Every
// registered consumer observes the identical ordered sequence of chunks, up
// to a shared terminal End or Err value, unless it lags and is individually
// terminated (see ErrConsumerLagged). A consumer created after some chunks
// have already been sent still sees all of them: Body keeps the chunks sent
// so far and replays them into a new consumer's queue before it starts
// receiving live ones, since dispatch to storage and to each matching script
// happens concurrently with the fetch and cannot guarantee every consumer
// subscribes before the first byte arrives.
type Body struct {
	mu        sync.Mutex
	consumers []*BodyConsumer
	history   []BodyChunk
	capacity  int
}

// NewBody creates an empty broadcast with the given per-consumer channel
// capacity (chunks buffered before a consumer is considered lagging).
func NewBody(capacity int) *Body {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Body{capacity: capacity}
}

// NewConsumer registers a new consumer, replaying any chunks already sent.
func (b *Body) NewConsumer() *BodyConsumer {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := &BodyConsumer{ch: make(chan BodyChunk, b.capacity)}
	for _, chunk := range b.history {
		c.send(chunk)
	}
	if !c.closed {
		b.consumers = append(b.consumers, c)
	}
	return c
}

// Send fans a chunk out to every registered consumer and records it so a
// consumer that subscribes later still receives it.
func (b *Body) Send(chunk BodyChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, chunk)
	for _, c := range b.consumers {
		c.send(chunk)
	}
}

// BodyConsumer is one sink's view of a Body broadcast.
type BodyConsumer struct {
	ch     chan BodyChunk
	mu     sync.Mutex
	closed bool
}

func (c *BodyConsumer) send(chunk BodyChunk) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.ch <- chunk:
		if chunk.End || chunk.Err != nil {
			c.closed = true
			close(c.ch)
		}
		return
	default:
	}

	// Consumer queue is full: it cannot keep pace. Drop the oldest buffered
	// chunk to guarantee room, then terminate it with a lag error instead of
	// blocking the producer indefinitely or leaving the consumer hanging.
	c.closed = true
	select {
	case <-c.ch:
	default:
	}
	select {
	case c.ch <- BodyChunk{Err: &BodyReadError{Kind: BodyReadIO, Err: ErrConsumerLagged}}:
	default:
	}
	close(c.ch)
}

// Chunks returns the raw channel of chunks for this consumer.
func (c *BodyConsumer) Chunks() <-chan BodyChunk {
	return c.ch
}

// Reader adapts this consumer into an io.Reader, useful for sinks that want
// to treat the body as a plain stream (e.g. io.Copy into a file or hasher).
func (c *BodyConsumer) Reader() io.Reader {
	return &consumerReader{c: c}
}

type consumerReader struct {
	c   *BodyConsumer
	buf []byte
	err error
}

func (r *consumerReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}

		chunk, ok := <-r.c.ch
		if !ok {
			r.err = io.EOF
			continue
		}
		if chunk.Err != nil {
			r.err = chunk.Err
			continue
		}
		if chunk.End {
			r.err = io.EOF
			continue
		}
		r.buf = chunk.Data
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

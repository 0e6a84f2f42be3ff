// Package actor is a small mailbox-actor runtime: a single goroutine owns an
// Actor's mutable state, callers talk to it only through Mailbox requests,
// and ActorManager handles spawning and cooperative shutdown. It is the Go
// rendering of the Rust crate's Mailbox/ActorManager/ProgramState trio, with
// flume/tokio primitives replaced by channels and a watch-style close signal.
package actor

import (
	"context"
	"sync"
)

// ProgramState mirrors the two-state lifecycle an ActorManager broadcasts to
// everything holding a copy of its shutdown watch.
type ProgramState int

const (
	StateRunning ProgramState = iota
	StateClosing
)

// Actor is implemented by the type that owns the state behind a mailbox.
// Answer runs on the actor's own goroutine, so it never needs to lock its own
// fields against concurrent access from other goroutines. Close runs exactly
// once, after the mailbox loop has exited; requests still queued when
// shutdown is signalled are not answered.
type Actor[I, O any] interface {
	Answer(ctx context.Context, input I) O
	Close()
}

type message[I, O any] struct {
	input I
	reply chan O
}

// Mailbox is a cheap-to-copy handle to an actor's inbox: the channel and
// notifier it wraps are reference types, so passing a Mailbox by value shares
// the same queue, matching the clone-a-handle style of the original actor
// crate's Mailbox<A>.
type Mailbox[I, O any] struct {
	tx      chan message[I, O]
	notify  *notifier
	counter *TaskCounter
}

// Len reports the number of requests currently queued but not yet picked up
// by a worker; a request a worker is answering is no longer counted.
func (mb Mailbox[I, O]) Len() int { return len(mb.tx) }

// Subscribe returns a channel that ticks whenever a request is enqueued or
// answered. The archiver's quiescence loop does not use it; that loop polls
// the TaskCounter on a ticker.
func (mb Mailbox[I, O]) Subscribe() <-chan struct{} { return mb.notify.subscribe() }

// DeferredRequest enqueues input and returns a channel that will receive the
// single reply once the actor answers it. The in-flight counter, if any, is
// incremented at enqueue and decremented once the reply is delivered, so
// counting accounts for work the actor hasn't started yet.
func (mb Mailbox[I, O]) DeferredRequest(ctx context.Context, input I) <-chan O {
	reply := make(chan O, 1)
	out := make(chan O, 1)

	if mb.counter != nil {
		mb.counter.incr()
	}
	mb.notify.tick()

	msg := message[I, O]{input: input, reply: reply}

	select {
	case mb.tx <- msg:
	case <-ctx.Done():
		if mb.counter != nil {
			mb.counter.decr()
		}
		mb.notify.tick()
		close(out)
		return out
	}

	go func() {
		defer close(out)
		select {
		case v := <-reply:
			if mb.counter != nil {
				mb.counter.decr()
			}
			mb.notify.tick()
			out <- v
		case <-ctx.Done():
			if mb.counter != nil {
				mb.counter.decr()
			}
			mb.notify.tick()
		}
	}()

	return out
}

// Request is DeferredRequest followed by a blocking wait for the answer. The
// zero value of O is returned if ctx is cancelled before the actor replies.
func (mb Mailbox[I, O]) Request(ctx context.Context, input I) O {
	var zero O
	ch := mb.DeferredRequest(ctx, input)
	v, ok := <-ch
	if !ok {
		return zero
	}
	return v
}

// ActorManager owns the goroutine(s) running behind a Mailbox and the
// cooperative shutdown signal shared by all of them.
type ActorManager[I, O any] struct {
	mailbox  Mailbox[I, O]
	shutdown chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewActorManager creates a manager and the Mailbox clients use to reach the
// actor(s) it will spawn. capacity bounds how many requests may be queued
// before a sender blocks; counter may be nil when no caller needs in-flight
// accounting.
func NewActorManager[I, O any](capacity int, counter *TaskCounter) (*ActorManager[I, O], Mailbox[I, O]) {
	mailbox := Mailbox[I, O]{
		tx:      make(chan message[I, O], capacity),
		notify:  newNotifier(),
		counter: counter,
	}
	mgr := &ActorManager[I, O]{
		mailbox:  mailbox,
		shutdown: make(chan struct{}),
	}
	return mgr, mailbox
}

// SpawnActor starts a goroutine running a's mailbox loop. Call it more than
// once to run several workers pulling from the same Mailbox (a worker pool
// sharing one inbox); each still gets its own Close call on shutdown.
func (m *ActorManager[I, O]) SpawnActor(a Actor[I, O]) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runLoop(a)
	}()
}

func (m *ActorManager[I, O]) runLoop(a Actor[I, O]) {
	defer a.Close()
	for {
		select {
		case msg, ok := <-m.mailbox.tx:
			if !ok {
				return
			}
			msg.reply <- a.Answer(context.Background(), msg.input)
			m.mailbox.notify.tick()
		case <-m.shutdown:
			return
		}
	}
}

// State reports whether CloseAndJoin has been called yet.
func (m *ActorManager[I, O]) State() ProgramState {
	select {
	case <-m.shutdown:
		return StateClosing
	default:
		return StateRunning
	}
}

// CloseAndJoin signals every spawned worker to stop after its current
// message and waits for them to exit. Safe to call more than once.
func (m *ActorManager[I, O]) CloseAndJoin() {
	m.once.Do(func() { close(m.shutdown) })
	m.wg.Wait()
}

package actor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type doubler struct {
	closed atomic.Bool
}

func (d *doubler) Answer(_ context.Context, input int) int { return input * 2 }
func (d *doubler) Close()                                  { d.closed.Store(true) }

func TestMailboxRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	mgr, mailbox := NewActorManager[int, int](8, nil)
	worker := &doubler{}
	mgr.SpawnActor(worker)

	got := mailbox.Request(context.Background(), 21)
	require.Equal(t, 42, got)

	mgr.CloseAndJoin()
	require.True(t, worker.closed.Load())
}

func TestMailboxDeferredRequestCountsInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	counter := NewTaskCounter()
	mgr, mailbox := NewActorManager[int, int](8, counter)
	mgr.SpawnActor(&doubler{})

	ch := mailbox.DeferredRequest(context.Background(), 10)
	require.Eventually(t, func() bool { return counter.Load() <= 1 }, time.Second, time.Millisecond)

	v := <-ch
	require.Equal(t, 20, v)
	require.Eventually(t, func() bool { return counter.Load() == 0 }, time.Second, time.Millisecond)

	mgr.CloseAndJoin()
}

func TestMailboxSubscribeTicksOnActivity(t *testing.T) {
	defer goleak.VerifyNone(t)

	mgr, mailbox := NewActorManager[int, int](8, nil)
	mgr.SpawnActor(&doubler{})

	sub := mailbox.Subscribe()
	_ = mailbox.Request(context.Background(), 1)

	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("expected a tick after a request was answered")
	}

	mgr.CloseAndJoin()
}

func TestActorManagerStateTransitions(t *testing.T) {
	defer goleak.VerifyNone(t)

	mgr, _ := NewActorManager[int, int](1, nil)
	mgr.SpawnActor(&doubler{})

	require.Equal(t, StateRunning, mgr.State())
	mgr.CloseAndJoin()
	require.Equal(t, StateClosing, mgr.State())

	// CloseAndJoin must be idempotent.
	mgr.CloseAndJoin()
}

func TestMailboxRequestRespectsContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	mgr, mailbox := NewActorManager[int, int](1, nil)
	mgr.SpawnActor(&doubler{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := mailbox.Request(ctx, 5)
	require.Equal(t, 0, got)

	mgr.CloseAndJoin()
}

package scripting

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kore-signet/evergarden/internal/pkg/actor"
	"github.com/kore-signet/evergarden/internal/pkg/config"
	"github.com/kore-signet/evergarden/internal/pkg/model"
)

type fakeClient struct {
	calls chan *model.UrlInfo
}

func (f *fakeClient) Answer(_ context.Context, info *model.UrlInfo) model.FetchResult {
	f.calls <- info
	meta := &model.ResponseMetadata{URL: info, Status: 200, ID: uuid.New(), Headers: http.Header{}}
	body := model.NewBody(0)
	body.Send(model.BodyChunk{End: true})
	return model.FetchResult{Response: &model.HttpResponse{Meta: meta, Body: body}}
}
func (f *fakeClient) Close() {}

func testResponse(t *testing.T, rawURL string) *model.HttpResponse {
	t.Helper()
	u, err := model.Seed(rawURL)
	require.NoError(t, err)
	require.NoError(t, u.Parse())

	body := model.NewBody(0)
	body.Send(model.BodyChunk{End: true})

	return &model.HttpResponse{
		Meta: &model.ResponseMetadata{URL: u, Status: 200, ID: uuid.New(), Headers: http.Header{}},
		Body: body,
	}
}

// drainSubmit consumes the Submit frame instance.Answer writes at the start
// of every call, the way a real scraper subprocess would.
func drainSubmit(t *testing.T, r io.Reader) {
	t.Helper()
	opByte := make([]byte, 1)
	_, err := io.ReadFull(r, opByte)
	require.NoError(t, err)
	require.Equal(t, byte(ServerSubmit), opByte[0])

	var metaLen uint64
	require.NoError(t, readUint64(r, &metaLen))
	_, err = io.ReadFull(r, make([]byte, metaLen))
	require.NoError(t, err)

	for {
		var chunkLen uint64
		require.NoError(t, readUint64(r, &chunkLen))
		if chunkLen == 0 {
			break
		}
		_, err = io.ReadFull(r, make([]byte, chunkLen))
		require.NoError(t, err)
	}
}

func newTestInstance(maxHops int) (*instance, *actor.ActorManager[*model.UrlInfo, model.FetchResult], *fakeClient, *io.PipeWriter, *io.PipeReader, *io.PipeWriter, *io.PipeReader) {
	mgr, mailbox := actor.NewActorManager[*model.UrlInfo, model.FetchResult](8, nil)
	client := &fakeClient{calls: make(chan *model.UrlInfo, 8)}
	mgr.SpawnActor(client)

	hostR, hostW := io.Pipe()     // instance.writer -> test (as scraper stdin read by test)
	scraperR, scraperW := io.Pipe() // test -> instance.reader (as scraper stdout written by test)

	inst := &instance{
		client:  mailbox,
		writer:  NewClientWriter(hostW),
		reader:  NewClientReader(scraperR),
		maxHops: maxHops,
	}
	return inst, mgr, client, hostW, hostR, scraperW, scraperR
}

func TestInstanceDropsSubmitBeyondMaxHops(t *testing.T) {
	inst, mgr, client, _, hostR, scraperW, _ := newTestInstance(0)
	defer mgr.CloseAndJoin()

	data := testResponse(t, "https://a.example/page")

	errCh := make(chan error, 1)
	go func() { errCh <- inst.Answer(context.Background(), data) }()

	drainSubmit(t, hostR)
	writeFrame(scraperW, OpSubmit, "https://b.example/other")
	scraperW.Write([]byte{byte(OpEndFile)})

	require.NoError(t, <-errCh)

	select {
	case <-client.calls:
		t.Fatal("expected cross-host submit beyond max_hops to be dropped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInstanceForwardsSubmitWithinMaxHops(t *testing.T) {
	inst, mgr, client, _, hostR, scraperW, _ := newTestInstance(5)
	defer mgr.CloseAndJoin()

	data := testResponse(t, "https://a.example/page")

	errCh := make(chan error, 1)
	go func() { errCh <- inst.Answer(context.Background(), data) }()

	drainSubmit(t, hostR)
	writeFrame(scraperW, OpSubmit, "https://b.example/other")
	scraperW.Write([]byte{byte(OpEndFile)})

	require.NoError(t, <-errCh)

	select {
	case got := <-client.calls:
		require.Equal(t, "https://b.example/other", got.RawURL)
	case <-time.After(time.Second):
		t.Fatal("expected a deferred fetch request for the submitted url")
	}
}

func TestInstanceAnswersFetch(t *testing.T) {
	inst, mgr, _, hostW, hostR, scraperW, _ := newTestInstance(5)
	defer mgr.CloseAndJoin()
	_ = hostW

	data := testResponse(t, "https://a.example/page")

	errCh := make(chan error, 1)
	go func() { errCh <- inst.Answer(context.Background(), data) }()

	drainSubmit(t, hostR)
	writeFrame(scraperW, OpFetch, "https://a.example/asset.js")

	opByte := make([]byte, 1)
	_, err := io.ReadFull(hostR, opByte)
	require.NoError(t, err)
	require.Equal(t, byte(ServerAnswerFetch), opByte[0])

	errFlag := make([]byte, 1)
	_, err = io.ReadFull(hostR, errFlag)
	require.NoError(t, err)
	require.Equal(t, byte(0), errFlag[0])

	var metaLen uint64
	require.NoError(t, readUint64(hostR, &metaLen))
	_, err = io.ReadFull(hostR, make([]byte, metaLen))
	require.NoError(t, err)

	var chunkLen uint64
	require.NoError(t, readUint64(hostR, &chunkLen))
	require.Zero(t, chunkLen)

	scraperW.Write([]byte{byte(OpEndFile)})
	require.NoError(t, <-errCh)
}

// TestInstanceCloseExitsSubprocessOnStdinClose exercises Close() against a
// real subprocess spawned via spawnInstance, the path bypassed by the other
// tests' bare &instance{} literal. cat ignores the CloseScript byte, so Close
// waits out its 100ms grace period and then closes stdin; cat exits on its
// own once stdin is closed, without Close ever killing it.
func TestInstanceCloseExitsSubprocessOnStdinClose(t *testing.T) {
	mgr, mailbox := actor.NewActorManager[*model.UrlInfo, model.FetchResult](8, nil)
	client := &fakeClient{calls: make(chan *model.UrlInfo, 8)}
	mgr.SpawnActor(client)
	defer mgr.CloseAndJoin()

	inst, err := spawnInstance(config.ScriptConfig{Command: "cat"}, mailbox, 5)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		inst.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after stdin was closed")
	}

	waitErr := inst.proc.Wait()
	require.Error(t, waitErr, "Wait should report the process already exited, not return cleanly twice")
}

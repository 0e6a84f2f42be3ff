package archive

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kore-signet/evergarden/internal/pkg/model"
)

func TestStorageActorStoreThenRetrieve(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, false)
	require.NoError(t, err)
	defer store.Close()

	actor := NewStorageActor(store)

	meta := testMeta(t, "https://example.com/a")
	body := model.NewBody(0)
	body.Send(model.BodyChunk{Data: []byte("payload")})
	body.Send(model.BodyChunk{End: true})

	storeReply := actor.Answer(context.Background(), model.StorageRequest{
		Op:       model.StorageStore,
		Key:      "com,example)/a",
		Response: &model.HttpResponse{Meta: meta, Body: body},
	})
	require.NoError(t, storeReply.Err)

	getReply := actor.Answer(context.Background(), model.StorageRequest{
		Op:  model.StorageRetrieve,
		Key: "com,example)/a",
	})
	require.NoError(t, getReply.Err)
	require.NotNil(t, getReply.Retrieved)
	require.Equal(t, 200, getReply.Retrieved.Meta.Status)

	data, err := io.ReadAll(getReply.Retrieved.Body.NewConsumer().Reader())
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestStorageActorRetrieveMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, false)
	require.NoError(t, err)
	defer store.Close()

	actor := NewStorageActor(store)
	reply := actor.Answer(context.Background(), model.StorageRequest{Op: model.StorageRetrieve, Key: "com,missing)/"})
	require.NoError(t, reply.Err)
	require.Nil(t, reply.Retrieved)
}

func TestStorageActorPutDirect(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, false)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Put("com,direct)/", testMeta(t, "https://direct.example/"), 1, strings.NewReader("x"))
	require.NoError(t, err)

	actor := NewStorageActor(store)
	reply := actor.Answer(context.Background(), model.StorageRequest{Op: model.StorageRetrieve, Key: "com,direct)/"})
	require.NoError(t, reply.Err)
	require.NotNil(t, reply.Retrieved)
}

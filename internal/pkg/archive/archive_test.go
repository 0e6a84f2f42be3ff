package archive

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kore-signet/evergarden/internal/pkg/model"
)

func testMeta(t *testing.T, rawURL string) *model.ResponseMetadata {
	t.Helper()
	u, err := model.Seed(rawURL)
	require.NoError(t, err)
	require.NoError(t, u.Parse())
	return &model.ResponseMetadata{
		URL:         u,
		Status:      200,
		HTTPVersion: "HTTP/1.1",
		Headers:     http.Header{"Content-Type": []string{"text/html"}},
		FetchedAt:   time.Now(),
		ID:          uuid.New(),
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, false)
	require.NoError(t, err)
	defer store.Close()

	meta := testMeta(t, "https://example.com/a")
	integrity, err := store.Put("com,example)/a", meta, 1, strings.NewReader("hello world"))
	require.NoError(t, err)
	require.NotEmpty(t, integrity)

	gotMeta, err := store.GetMeta("com,example)/a")
	require.NoError(t, err)
	require.Equal(t, meta.Status, gotMeta.Status)

	exists, err := store.Exists(integrity)
	require.NoError(t, err)
	require.True(t, exists)

	body, err := store.GetBody(integrity)
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestStoreGetMetaMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, false)
	require.NoError(t, err)
	defer store.Close()

	meta, err := store.GetMeta("com,missing)/")
	require.NoError(t, err)
	require.Nil(t, meta)
}

func TestStoreList(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, false)
	require.NoError(t, err)
	defer store.Close()

	for _, key := range []string{"com,a)/", "com,b)/", "com,c)/"} {
		_, err := store.Put(key, testMeta(t, "https://"+key), 1, strings.NewReader(key))
		require.NoError(t, err)
	}

	var seen []string
	require.NoError(t, store.List(func(e model.ArchiveEntry) error {
		seen = append(seen, e.Key)
		return nil
	}))
	require.ElementsMatch(t, []string{"com,a)/", "com,b)/", "com,c)/"}, seen)
}

func TestStoreDeleteAndClear(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, false)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Put("com,a)/", testMeta(t, "https://a.com/"), 1, strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, store.Delete("com,a)/"))
	meta, err := store.GetMeta("com,a)/")
	require.NoError(t, err)
	require.Nil(t, meta)

	_, err = store.Put("com,b)/", testMeta(t, "https://b.com/"), 1, strings.NewReader("y"))
	require.NoError(t, err)
	require.NoError(t, store.Clear())

	var count int
	require.NoError(t, store.List(func(model.ArchiveEntry) error {
		count++
		return nil
	}))
	require.Zero(t, count)
}

func TestOpenDropExisting(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, false)
	require.NoError(t, err)
	_, err = store.Put("com,a)/", testMeta(t, "https://a.com/"), 1, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(dir, true)
	require.NoError(t, err)
	defer reopened.Close()

	meta, err := reopened.GetMeta("com,a)/")
	require.NoError(t, err)
	require.Nil(t, meta)
}

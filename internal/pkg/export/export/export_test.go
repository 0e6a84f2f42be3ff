package export

import (
	"archive/zip"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kore-signet/evergarden/internal/pkg/archive"
	"github.com/kore-signet/evergarden/internal/pkg/model"
)

func putPage(t *testing.T, store *archive.Store, key, rawURL, body string, fetchedAt time.Time) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	meta := &model.ResponseMetadata{
		URL:         &model.UrlInfo{URL: u, RawURL: u.String()},
		Status:      200,
		HTTPVersion: "HTTP/1.1",
		Headers:     http.Header{"Content-Type": []string{"text/html"}},
		FetchedAt:   fetchedAt,
		ID:          uuid.New(),
	}
	_, err = store.Put(key, meta, fetchedAt.UnixNano(), strings.NewReader(body))
	require.NoError(t, err)
}

func TestRunProducesWaczWithAllMembers(t *testing.T) {
	dir := t.TempDir()
	archiveDir := dir + "/archive"
	outPath := dir + "/out.wacz"

	store, err := archive.Open(archiveDir, false)
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	putPage(t, store, "com,example)/", "https://example.com/", "<html/>", base)
	putPage(t, store, "com,example)/other", "https://example.com/other", "<html>other</html>", base.Add(time.Second))

	require.NoError(t, store.WriteInfo(&model.CrawlInfo{EntryPoints: []string{"com,example)/"}}))
	require.NoError(t, store.Close())

	require.NoError(t, Run(Options{ArchiveDir: archiveDir, OutputPath: outPath}))

	zr, err := zip.OpenReader(outPath)
	require.NoError(t, err)
	defer zr.Close()

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}

	require.True(t, names["datapackage.json"])
	require.True(t, names["indexes/index.cdx.gz"])
	require.True(t, names["indexes/index.idx"])
	require.True(t, names["pages/pages.jsonl"])
	require.True(t, names["pages/extraPages.jsonl"])
	require.True(t, names["archive/00000.warc.gz"])
}

package pages

import (
	"bufio"
	"encoding/json"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kore-signet/evergarden/internal/pkg/model"
)

func sampleMeta(t *testing.T, raw string) *model.ResponseMetadata {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return &model.ResponseMetadata{
		URL:       &model.UrlInfo{URL: u, RawURL: u.String()},
		Status:    200,
		FetchedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		ID:        uuid.New(),
	}
}

func TestWriterSplitsMainAndExtra(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.AddEntry(sampleMeta(t, "https://example.com/"), true))
	require.NoError(t, w.AddEntry(sampleMeta(t, "https://example.com/other"), false))

	mainEntry, extraEntry, err := w.Finalize()
	require.NoError(t, err)
	require.Equal(t, "pages.jsonl", mainEntry.Name)
	require.Equal(t, "extraPages.jsonl", extraEntry.Name)

	mainLines := readLines(t, dir+"/pages.jsonl")
	require.Len(t, mainLines, 2)
	var header struct{ Format, ID, Title string }
	require.NoError(t, json.Unmarshal([]byte(mainLines[0]), &header))
	require.Equal(t, "json-pages-1.0", header.Format)
	require.Equal(t, "entrypoint-pages", header.ID)

	var page entry
	require.NoError(t, json.Unmarshal([]byte(mainLines[1]), &page))
	require.Equal(t, "https://example.com/", page.URL)

	extraLines := readLines(t, dir+"/extraPages.jsonl")
	require.Len(t, extraLines, 2)
	require.NoError(t, json.Unmarshal([]byte(extraLines[0]), &header))
	require.Equal(t, "extra-pages", header.ID)
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	return lines
}

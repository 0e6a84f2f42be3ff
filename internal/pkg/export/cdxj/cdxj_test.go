package cdxj

import (
	"bufio"
	"bytes"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
)

func rec(key string, t time.Time) Record {
	return Record{Key: key, Time: t, Block: Block{URL: "https://" + key, Status: 200, Filename: "00000.warc.gz"}}
}

func TestWriteBatchSortsLinesAndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	keys := []string{"com,zeta)/", "com,alpha)/", "com,mid)/"}
	for i, k := range keys {
		require.NoError(t, w.Add(rec(k, base.Add(time.Duration(i)*time.Second))))
	}

	cdxEntry, idxEntry, err := w.Finalize()
	require.NoError(t, err)
	require.Equal(t, "index.cdx.gz", cdxEntry.Name)
	require.Equal(t, "index.idx", idxEntry.Name)

	raw, err := os.ReadFile(dir + "/index.cdx.gz")
	require.NoError(t, err)

	gr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	scanner := bufio.NewScanner(gr)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 3)
	require.True(t, sort.StringsAreSorted(lines), "cdxj lines must be sorted")
	require.True(t, strings.HasPrefix(lines[0], "com,alpha)/"))

	idxRaw, err := os.ReadFile(dir + "/index.idx")
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(idxRaw), "\n"))
	require.Contains(t, string(idxRaw), "\"filename\":\"index.cdx.gz\"")
}

func TestFinalizeDrainsPartialBatch(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.Add(rec("com,only)/", time.Now().UTC())))

	_, _, err = w.Finalize()
	require.NoError(t, err)

	raw, err := os.ReadFile(dir + "/index.cdx.gz")
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}

func TestBatchDrainsAtThreshold(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	base := time.Now().UTC()
	for i := 0; i < batchSize; i++ {
		require.NoError(t, w.Add(rec("com,example)/", base.Add(time.Duration(i)*time.Millisecond))))
	}
	require.Empty(t, w.buf, "a full batch must drain immediately")
}

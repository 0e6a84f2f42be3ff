// Package cdxj accumulates CDXRecords and batches them into a gzip-blocked
// CDXJ index plus a sparse ZipNum-style IDX secondary index, grounded on
// export/src/cdxj.rs's CDXWriter. Records are expected to already arrive
// sorted by (key, time); the export pipeline enforces that by group-sorting
// before submission (spec.md §5).
package cdxj

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/kore-signet/evergarden/internal/pkg/export/wacz"
)

const batchSize = 1000

// Block is the JSON payload on a CDXJ line.
type Block struct {
	URL      string `json:"url"`
	Digest   string `json:"digest"`
	Mime     string `json:"mime,omitempty"`
	Filename string `json:"filename"`
	Offset   int64  `json:"offset"`
	Length   int64  `json:"length"`
	Status   int    `json:"status"`
}

// Record is one captured resource, ready to be rendered as a CDXJ line.
type Record struct {
	Key   string
	Time  time.Time
	Block Block
}

const idxTimeLayout = "20060102150405"

// Line renders "<key> <yyyymmddhhmmss> <json-block>".
func (r Record) Line() ([]byte, error) {
	blockJSON, err := json.Marshal(r.Block)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(r.Key)+16+len(blockJSON))
	out = append(out, r.Key...)
	out = append(out, ' ')
	out = append(out, r.Time.UTC().Format(idxTimeLayout)...)
	out = append(out, ' ')
	out = append(out, blockJSON...)
	return out, nil
}

// idxBlock is the payload on an IDX line: a pointer to one gzip member in
// index.cdx.gz.
type idxBlock struct {
	Offset   int64  `json:"offset"`
	Length   int64  `json:"length"`
	Digest   string `json:"digest"`
	Filename string `json:"filename"`
}

// Writer buffers Records and drains them in 1000-record batches, each
// compressed as one independent gzip member appended to index.cdx.gz, with
// an anchor entry written to index.idx for every batch.
type Writer struct {
	cdxPath string
	idxPath string
	cdxFile *os.File
	idxFile *os.File

	buf []Record
}

// NewWriter opens dir/index.cdx.gz and dir/index.idx for appending.
func NewWriter(dir string) (*Writer, error) {
	cdxPath := dir + "/index.cdx.gz"
	idxPath := dir + "/index.idx"

	cdxFile, err := os.OpenFile(cdxPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	idxFile, err := os.OpenFile(idxPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		cdxFile.Close()
		return nil, err
	}

	return &Writer{cdxPath: cdxPath, idxPath: idxPath, cdxFile: cdxFile, idxFile: idxFile}, nil
}

// Add buffers rec, draining a 1000-record batch whenever the buffer fills.
func (w *Writer) Add(rec Record) error {
	w.buf = append(w.buf, rec)
	if len(w.buf) >= batchSize {
		return w.drain(batchSize)
	}
	return nil
}

func (w *Writer) drain(n int) error {
	for len(w.buf) >= n && n > 0 {
		batch := w.buf[:n]
		if err := w.writeBatch(batch); err != nil {
			return err
		}
		w.buf = w.buf[n:]
	}
	return nil
}

func (w *Writer) writeBatch(batch []Record) error {
	if len(batch) == 0 {
		return nil
	}

	lines := make([][]byte, 0, len(batch))
	for _, rec := range batch {
		line, err := rec.Line()
		if err != nil {
			return err
		}
		lines = append(lines, line)
	}
	sort.Slice(lines, func(i, j int) bool { return bytes.Compare(lines[i], lines[j]) < 0 })

	var block bytes.Buffer
	gz, err := gzip.NewWriterLevel(&block, gzip.BestSpeed)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := gz.Write(line); err != nil {
			return err
		}
		if _, err := gz.Write([]byte("\n")); err != nil {
			return err
		}
	}
	if err := gz.Close(); err != nil {
		return err
	}

	offset, err := w.cdxFile.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := w.cdxFile.Write(block.Bytes()); err != nil {
		return err
	}

	digest := sha256.Sum256(block.Bytes())
	anchor := batch[0]
	idxLine := fmt.Sprintf("%s %s %s\n", anchor.Key, anchor.Time.UTC().Format(idxTimeLayout), mustJSON(idxBlock{
		Offset:   offset,
		Length:   int64(block.Len()),
		Digest:   "sha256:" + hex.EncodeToString(digest[:]),
		Filename: "index.cdx.gz",
	}))
	if _, err := w.idxFile.WriteString(idxLine); err != nil {
		return err
	}

	return nil
}

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Finalize drains any remaining buffered records as a final (possibly
// short) batch, then hashes and sizes both files.
func (w *Writer) Finalize() (cdxEntry, idxEntry wacz.DataPackageEntry, err error) {
	if len(w.buf) > 0 {
		if err := w.writeBatch(w.buf); err != nil {
			return wacz.DataPackageEntry{}, wacz.DataPackageEntry{}, err
		}
		w.buf = nil
	}

	cdxHash, cdxSize, err := wacz.Sha256File(w.cdxFile)
	if err != nil {
		return wacz.DataPackageEntry{}, wacz.DataPackageEntry{}, err
	}
	idxHash, idxSize, err := wacz.Sha256File(w.idxFile)
	if err != nil {
		return wacz.DataPackageEntry{}, wacz.DataPackageEntry{}, err
	}

	if err := w.cdxFile.Close(); err != nil {
		return wacz.DataPackageEntry{}, wacz.DataPackageEntry{}, err
	}
	if err := w.idxFile.Close(); err != nil {
		return wacz.DataPackageEntry{}, wacz.DataPackageEntry{}, err
	}

	cdxEntry = wacz.DataPackageEntry{Name: "index.cdx.gz", Path: "indexes/index.cdx.gz", Hash: cdxHash, Bytes: cdxSize}
	idxEntry = wacz.DataPackageEntry{Name: "index.idx", Path: "indexes/index.idx", Hash: idxHash, Bytes: idxSize}
	return cdxEntry, idxEntry, nil
}

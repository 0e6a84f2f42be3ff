// Package warc renders stored responses into rotating gzipped WARC files,
// grounded on export/src/warc.rs's WarcRecorder/RotatingWarcRecorder. Each
// record's embedded HTTP/1.1 block is rendered to a temp file first (so its
// SHA-256 digest and exact length are known before the WARC header is
// written), then the whole record is gzipped as one independent member via
// klauspost/compress/gzip so exported files stay seekable record-by-record.
package warc

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/net/http/httpguts"

	"github.com/kore-signet/evergarden/internal/pkg/export/cdxj"
	"github.com/kore-signet/evergarden/internal/pkg/export/wacz"
	"github.com/kore-signet/evergarden/internal/pkg/model"
)

// Writer is a rotating WARC recorder: records are appended to the current
// "{:05}.warc.gz" file until its size exceeds threshold, at which point a
// new file is opened and the old one is hashed and recorded for finalize.
type Writer struct {
	dir       string
	threshold int64

	counter int
	current *os.File

	digests []digestedFile
}

type digestedFile struct {
	index int
	hash  string
	size  int64
}

// NewWriter opens dir/00000.warc.gz and prepares a rotating recorder that
// rolls to a new file once the current one exceeds threshold bytes.
func NewWriter(dir string, threshold int64) (*Writer, error) {
	f, err := openNumbered(dir, 0)
	if err != nil {
		return nil, err
	}
	return &Writer{dir: dir, threshold: threshold, current: f}, nil
}

func openNumbered(dir string, n int) (*os.File, error) {
	name := fmt.Sprintf("%s/%05d.warc.gz", dir, n)
	return os.OpenFile(name, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
}

func numberedName(n int) string {
	return fmt.Sprintf("%05d.warc.gz", n)
}

// WriteWarc renders one response as a WARC record and returns the CDXJ
// record describing where it landed.
func (w *Writer) WriteWarc(surt string, meta *model.ResponseMetadata, body io.Reader) (cdxj.Record, error) {
	httpBlock, err := os.CreateTemp("", "evergarden-http-block-*")
	if err != nil {
		return cdxj.Record{}, err
	}
	defer os.Remove(httpBlock.Name())
	defer httpBlock.Close()

	contentLen, err := writeHTTPResponse(httpBlock, meta, body)
	if err != nil {
		return cdxj.Record{}, err
	}

	digest, err := fileDigest(httpBlock)
	if err != nil {
		return cdxj.Record{}, err
	}

	startOffset, err := w.current.Seek(0, io.SeekEnd)
	if err != nil {
		return cdxj.Record{}, err
	}

	if _, err := httpBlock.Seek(0, io.SeekStart); err != nil {
		return cdxj.Record{}, err
	}
	if err := w.writeRawWarc(meta, httpBlock, digest, contentLen); err != nil {
		return cdxj.Record{}, err
	}

	endOffset, err := w.current.Seek(0, io.SeekEnd)
	if err != nil {
		return cdxj.Record{}, err
	}

	rec := cdxj.Record{
		Key:  surt,
		Time: meta.FetchedAt,
		Block: cdxj.Block{
			URL:      meta.URL.RawURL,
			Digest:   "sha256:" + hex.EncodeToString(digest[:]),
			Mime:     contentTypeWithoutParams(meta.Headers.Get("Content-Type")),
			Filename: numberedName(w.counter),
			Offset:   startOffset,
			Length:   endOffset - startOffset,
			Status:   meta.Status,
		},
	}

	if endOffset > w.threshold {
		if err := w.rotate(); err != nil {
			return cdxj.Record{}, err
		}
	}

	return rec, nil
}

func contentTypeWithoutParams(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return ""
	}
	return parsed
}

// writeHTTPResponse renders the status line, headers and body into out,
// returning the total byte length written.
func writeHTTPResponse(out io.Writer, meta *model.ResponseMetadata, body io.Reader) (int64, error) {
	counted := &countingWriter{w: out}

	statusLine := fmt.Sprintf("HTTP/1.1 %d %s", meta.Status, statusText(meta.Status))
	if err := writeLine(counted, statusLine); err != nil {
		return 0, err
	}

	names := make([]string, 0, len(meta.Headers))
	for name := range meta.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !httpguts.ValidHeaderFieldName(name) {
			continue
		}
		for _, value := range meta.Headers[name] {
			if !httpguts.ValidHeaderFieldValue(value) {
				continue
			}
			if err := writeHeader(counted, name, value); err != nil {
				return 0, err
			}
		}
	}

	if err := writeLine(counted, ""); err != nil {
		return 0, err
	}

	if _, err := io.Copy(counted, body); err != nil {
		return 0, err
	}

	return counted.n, nil
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return text
	}
	return "<unknown status code>"
}

func (w *Writer) writeRawWarc(meta *model.ResponseMetadata, httpBlock io.Reader, digest [32]byte, contentLen int64) error {
	gz, err := gzip.NewWriterLevel(w.current, 5)
	if err != nil {
		return err
	}

	if err := writeLine(gz, "WARC/1.1"); err != nil {
		return err
	}

	if err := writeHeader(gz, "WARC-Target-URI", meta.URL.RawURL); err != nil {
		return err
	}
	if err := writeHeader(gz, "Content-Type", "application/http;msgtype=response"); err != nil {
		return err
	}
	if err := writeHeader(gz, "WARC-Type", "response"); err != nil {
		return err
	}
	if err := writeHeader(gz, "WARC-Date", meta.FetchedAt.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := writeHeader(gz, "WARC-Record-ID", fmt.Sprintf("<urn:uuid:%s>", meta.ID.String())); err != nil {
		return err
	}
	if meta.RemoteAddr != "" {
		if err := writeHeader(gz, "WARC-IP-Address", hostOnly(meta.RemoteAddr)); err != nil {
			return err
		}
	}
	if err := writeHeader(gz, "WARC-Protocol", warcProtocol(meta.HTTPVersion)); err != nil {
		return err
	}
	if err := writeHeader(gz, "WARC-Block-Digest", "sha256:"+hex.EncodeToString(digest[:])); err != nil {
		return err
	}
	if err := writeHeader(gz, "Content-Length", fmt.Sprintf("%d", contentLen)); err != nil {
		return err
	}
	if err := writeLine(gz, ""); err != nil {
		return err
	}

	if _, err := io.Copy(gz, httpBlock); err != nil {
		return err
	}

	return gz.Close()
}

func hostOnly(remoteAddr string) string {
	for i := len(remoteAddr) - 1; i >= 0; i-- {
		if remoteAddr[i] == ':' {
			return remoteAddr[:i]
		}
	}
	return remoteAddr
}

func warcProtocol(httpVersion string) string {
	switch httpVersion {
	case "HTTP/0.9":
		return "http/0.9"
	case "HTTP/1.0":
		return "http/1.0"
	case "HTTP/2.0", "HTTP/2":
		return "h2"
	case "HTTP/3.0", "HTTP/3":
		return "h3"
	default:
		return "http/1.1"
	}
}

func (w *Writer) rotate() error {
	if err := w.digestCurrent(); err != nil {
		return err
	}

	w.counter++
	f, err := openNumbered(w.dir, w.counter)
	if err != nil {
		return err
	}
	w.current.Close()
	w.current = f
	return nil
}

func (w *Writer) digestCurrent() error {
	digest, err := fileDigest(w.current)
	if err != nil {
		return err
	}
	size, err := w.current.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	w.digests = append(w.digests, digestedFile{index: w.counter, hash: "sha256:" + hex.EncodeToString(digest[:]), size: size})
	return nil
}

// Finalize flushes and hashes every rotated file plus the still-open current
// one, returning one DataPackageEntry per WARC file on disk.
func (w *Writer) Finalize() ([]wacz.DataPackageEntry, error) {
	if err := w.digestCurrent(); err != nil {
		return nil, err
	}
	if err := w.current.Close(); err != nil {
		return nil, err
	}

	entries := make([]wacz.DataPackageEntry, 0, len(w.digests))
	for _, d := range w.digests {
		entries = append(entries, wacz.DataPackageEntry{
			Name:  numberedName(d.index),
			Path:  "archive/" + numberedName(d.index),
			Hash:  d.hash,
			Bytes: d.size,
		})
	}
	return entries, nil
}

func fileDigest(f *os.File) ([32]byte, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return [32]byte{}, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, bufio.NewReader(f)); err != nil {
		return [32]byte{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func writeLine(w io.Writer, line string) error {
	if _, err := io.WriteString(w, line); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func writeHeader(w io.Writer, name, value string) error {
	return writeLine(w, name+": "+value)
}

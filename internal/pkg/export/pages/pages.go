// Package pages writes the pages.jsonl / extraPages.jsonl manifests,
// grounded on export/src/pages.rs's PagesWriter. Every stored response lands
// in exactly one of the two files depending on whether its SURT key is one
// of the crawl's entry points.
package pages

import (
	"encoding/json"
	"os"

	"github.com/kore-signet/evergarden/internal/pkg/export/wacz"
	"github.com/kore-signet/evergarden/internal/pkg/model"
)

type header struct {
	Format string `json:"format"`
	ID     string `json:"id"`
	Title  string `json:"title"`
}

type entry struct {
	ID  string `json:"id"`
	URL string `json:"url"`
	TS  string `json:"ts"`
}

// Writer splits entries between a main ("entrypoint-pages") and an extra
// ("extra-pages") JSONL file.
type Writer struct {
	mainPath  string
	extraPath string
	main      *os.File
	extra     *os.File
}

// NewWriter opens dir/pages.jsonl and dir/extraPages.jsonl and writes each
// file's header line.
func NewWriter(dir string) (*Writer, error) {
	mainPath := dir + "/pages.jsonl"
	extraPath := dir + "/extraPages.jsonl"

	main, err := os.OpenFile(mainPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	extra, err := os.OpenFile(extraPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		main.Close()
		return nil, err
	}

	w := &Writer{mainPath: mainPath, extraPath: extraPath, main: main, extra: extra}

	if err := writeJSONLine(main, header{Format: "json-pages-1.0", ID: "entrypoint-pages", Title: "main pages!"}); err != nil {
		return nil, err
	}
	if err := writeJSONLine(extra, header{Format: "json-pages-1.0", ID: "extra-pages", Title: "crawled pages"}); err != nil {
		return nil, err
	}

	return w, nil
}

// AddEntry appends one record to the main file if isMain, otherwise to the
// extra file.
func (w *Writer) AddEntry(meta *model.ResponseMetadata, isMain bool) error {
	e := entry{ID: meta.ID.String(), URL: meta.URL.RawURL, TS: meta.FetchedAt.UTC().Format("2006-01-02T15:04:05Z07:00")}
	if isMain {
		return writeJSONLine(w.main, e)
	}
	return writeJSONLine(w.extra, e)
}

func writeJSONLine(f *os.File, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = f.Write(b)
	return err
}

// Finalize flushes, hashes and sizes both files, returning the main and
// extra DataPackageEntry in that order.
func (w *Writer) Finalize() (main, extra wacz.DataPackageEntry, err error) {
	mainHash, mainSize, err := wacz.Sha256File(w.main)
	if err != nil {
		return wacz.DataPackageEntry{}, wacz.DataPackageEntry{}, err
	}
	extraHash, extraSize, err := wacz.Sha256File(w.extra)
	if err != nil {
		return wacz.DataPackageEntry{}, wacz.DataPackageEntry{}, err
	}

	if err := w.main.Close(); err != nil {
		return wacz.DataPackageEntry{}, wacz.DataPackageEntry{}, err
	}
	if err := w.extra.Close(); err != nil {
		return wacz.DataPackageEntry{}, wacz.DataPackageEntry{}, err
	}

	main = wacz.DataPackageEntry{Name: "pages.jsonl", Path: "pages/pages.jsonl", Hash: mainHash, Bytes: mainSize}
	extra = wacz.DataPackageEntry{Name: "extraPages.jsonl", Path: "pages/extraPages.jsonl", Hash: extraHash, Bytes: extraSize}
	return main, extra, nil
}

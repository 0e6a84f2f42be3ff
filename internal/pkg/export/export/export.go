// Package export orchestrates the archive export pipeline: list every
// stored record, sort by (key, time), render WARC/CDXJ/pages artifacts, then
// zip everything into a WACZ. Grounded on spec.md's export data flow (§2,
// §4.6-4.9) since original_source's own CLI driver for this step was not
// captured in the retrieval pack; the writer packages it calls into are each
// grounded directly on their Rust counterparts.
package export

import (
	"fmt"
	"os"
	"sort"

	"github.com/kore-signet/evergarden/internal/pkg/archive"
	"github.com/kore-signet/evergarden/internal/pkg/export/cdxj"
	"github.com/kore-signet/evergarden/internal/pkg/export/pages"
	"github.com/kore-signet/evergarden/internal/pkg/export/wacz"
	"github.com/kore-signet/evergarden/internal/pkg/export/warc"
	"github.com/kore-signet/evergarden/internal/pkg/log"
	"github.com/kore-signet/evergarden/internal/pkg/model"
)

// DefaultWarcThreshold rotates to a new WARC file once the current one
// exceeds this many bytes.
const DefaultWarcThreshold = 1 << 30 // 1 GiB

// Software is recorded in every datapackage.json this package produces.
const Software = "evergarden/1.0"

// Options configures one export run.
type Options struct {
	ArchiveDir    string
	OutputPath    string
	WarcThreshold int64 // 0 uses DefaultWarcThreshold
}

var logger = log.NewFieldedLogger(&log.Fields{"component": "export"})

// Run reads every record in the archive at opts.ArchiveDir and writes a WACZ
// package to opts.OutputPath.
func Run(opts Options) error {
	if err := log.Start(); err != nil {
		return fmt.Errorf("export: starting logger: %w", err)
	}
	defer log.Stop()

	threshold := opts.WarcThreshold
	if threshold <= 0 {
		threshold = DefaultWarcThreshold
	}

	store, err := archive.Open(opts.ArchiveDir, false)
	if err != nil {
		return fmt.Errorf("export: opening archive: %w", err)
	}
	defer store.Close()

	info, err := store.ReadInfo()
	if err != nil {
		return fmt.Errorf("export: reading crawl info: %w", err)
	}
	entryPoints := map[string]bool{}
	if info != nil {
		for _, k := range info.EntryPoints {
			entryPoints[k] = true
		}
	}

	entries, err := listSorted(store)
	if err != nil {
		return fmt.Errorf("export: listing archive: %w", err)
	}

	workDir, err := os.MkdirTemp("", "evergarden-export-*")
	if err != nil {
		return fmt.Errorf("export: creating working dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	archiveDir := workDir + "/archive"
	indexesDir := workDir + "/indexes"
	pagesDir := workDir + "/pages"
	for _, d := range []string{archiveDir, indexesDir, pagesDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("export: preparing working dir: %w", err)
		}
	}

	warcWriter, err := warc.NewWriter(archiveDir, threshold)
	if err != nil {
		return fmt.Errorf("export: opening warc writer: %w", err)
	}
	cdxWriter, err := cdxj.NewWriter(indexesDir)
	if err != nil {
		return fmt.Errorf("export: opening cdxj writer: %w", err)
	}
	pagesWriter, err := pages.NewWriter(pagesDir)
	if err != nil {
		return fmt.Errorf("export: opening pages writer: %w", err)
	}

	for _, e := range entries {
		if err := writeOne(store, warcWriter, cdxWriter, pagesWriter, e, entryPoints); err != nil {
			return fmt.Errorf("export: writing record %q: %w", e.Key, err)
		}
	}

	warcEntries, err := warcWriter.Finalize()
	if err != nil {
		return fmt.Errorf("export: finalizing warc: %w", err)
	}
	cdxEntry, idxEntry, err := cdxWriter.Finalize()
	if err != nil {
		return fmt.Errorf("export: finalizing cdxj: %w", err)
	}
	pagesEntry, extraEntry, err := pagesWriter.Finalize()
	if err != nil {
		return fmt.Errorf("export: finalizing pages: %w", err)
	}

	zipEntries := wacz.Entries{
		WarcFiles:  warcEntries,
		WarcDir:    archiveDir,
		CDXGz:      cdxEntry,
		CDXGzPath:  indexesDir + "/index.cdx.gz",
		IDX:        idxEntry,
		IDXPath:    indexesDir + "/index.idx",
		PagesJSONL: pagesEntry,
		PagesPath:  pagesDir + "/pages.jsonl",
		ExtraJSONL: extraEntry,
		ExtraPath:  pagesDir + "/extraPages.jsonl",
	}

	if err := wacz.Write(opts.OutputPath, zipEntries, Software); err != nil {
		return fmt.Errorf("export: writing wacz: %w", err)
	}

	logger.Info("export finished", "records", len(entries), "warc_files", len(warcEntries), "output", opts.OutputPath)
	return nil
}

func writeOne(store *archive.Store, w *warc.Writer, c *cdxj.Writer, p *pages.Writer, e model.ArchiveEntry, entryPoints map[string]bool) error {
	body, err := store.GetBody(e.Integrity)
	if err != nil {
		return err
	}
	if body == nil {
		return fmt.Errorf("missing blob for integrity %q", e.Integrity)
	}
	defer body.Close()

	rec, err := w.WriteWarc(e.Key, e.Meta, body)
	if err != nil {
		return err
	}
	if err := c.Add(rec); err != nil {
		return err
	}
	return p.AddEntry(e.Meta, entryPoints[e.Key])
}

// listSorted reads every archive record and sorts it by (key, time), the
// ordering the CDXJ writer requires but does not itself enforce.
func listSorted(store *archive.Store) ([]model.ArchiveEntry, error) {
	var entries []model.ArchiveEntry
	if err := store.List(func(e model.ArchiveEntry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Key != entries[j].Key {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].Meta.FetchedAt.Before(entries[j].Meta.FetchedAt)
	})
	return entries, nil
}

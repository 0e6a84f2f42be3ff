// Package wacz assembles the final WACZ package: a ZIP of the WARC files,
// the CDXJ/IDX indexes and the pages manifests, plus a datapackage.json
// listing every resource's SHA-256 hash and byte length. The manifest is not
// signed.
// Grounded on export/src/lib.rs's DataPackage/DataPackageEntry and the ZIP
// layout spec.md §4.9 pins down (the original never assembles a ZIP itself;
// that final step is this package's own addition, built the way the rest of
// the export crate renders hashes and manifests).
package wacz

import (
	"archive/zip"
	"compress/flate"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// DataPackageEntry describes one resource inside the WACZ, mirroring
// DataPackageEntry in lib.rs.
type DataPackageEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Hash  string `json:"hash"`
	Bytes int64  `json:"bytes"`
}

// DataPackage is the root of datapackage.json.
type DataPackage struct {
	Profile     string             `json:"profile"`
	WaczVersion string             `json:"wacz_version"`
	Software    string             `json:"software"`
	Created     string             `json:"created"`
	Resources   []DataPackageEntry `json:"resources"`
}

// Sha256File hashes the whole of f from its start and returns the
// "sha256:<hex>" digest and the byte length; the caller builds the
// DataPackageEntry from them. f is left positioned at its start. Used by every
// writer (warc/cdxj/pages) once a file is done being appended to.
func Sha256File(f *os.File) (hash string, size int64, err error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, err
	}
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, err
	}
	return Sha256String(h.Sum(nil)), n, nil
}

// Sha256String renders a raw digest as "sha256:<hex>", matching
// sha256_as_string in lib.rs.
func Sha256String(digest []byte) string {
	return "sha256:" + hex.EncodeToString(digest)
}

// Entries is every resource fed into a WACZ, split by kind since each kind's
// zip compression method differs.
type Entries struct {
	WarcFiles   []DataPackageEntry // path on disk == WarcDir + "/" + Name
	WarcDir     string
	CDXGz       DataPackageEntry
	CDXGzPath   string
	IDX         DataPackageEntry
	IDXPath     string
	PagesJSONL  DataPackageEntry
	PagesPath   string
	ExtraJSONL  DataPackageEntry
	ExtraPath   string
}

const (
	methodStore   = zip.Store
	methodDeflate = zip.Deflate
)

// Write assembles outPath from every entry in e, building datapackage.json
// in the process, and fails atomically: the output is written to a temp file
// next to outPath and renamed into place only once every member has been
// written successfully, so a failing export never leaves a partial WACZ
// behind (spec.md §7: "export errors are fatal; no partial WACZ is
// committed").
func Write(outPath string, e Entries, software string) error {
	tmp, err := os.CreateTemp(outDir(outPath), ".wacz-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := write(tmp, e, software); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, outPath)
}

func outDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func write(out *os.File, e Entries, software string) error {
	zw := zip.NewWriter(out)
	// Every Deflate member in this archive uses level 9; the stdlib zip
	// writer picks its compressor per method, not per entry.
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	if err := writeDir(zw, "archive/", methodStore); err != nil {
		return err
	}
	if err := writeDir(zw, "indexes/", methodStore); err != nil {
		return err
	}
	if err := writeDir(zw, "pages/", methodDeflate); err != nil {
		return err
	}

	dp := DataPackage{
		Profile:     "data-package",
		WaczVersion: "1.1.1",
		Software:    software,
		Created:     time.Now().UTC().Format(time.RFC3339),
	}
	dp.Resources = append(dp.Resources, e.CDXGz, e.IDX, e.PagesJSONL, e.ExtraJSONL)
	dp.Resources = append(dp.Resources, e.WarcFiles...)

	manifest, err := json.MarshalIndent(dp, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileEntry(zw, "datapackage.json", manifest, methodDeflate); err != nil {
		return err
	}

	if err := copyFileEntry(zw, "indexes/index.cdx.gz", e.CDXGzPath, methodStore); err != nil {
		return err
	}
	if err := copyFileEntry(zw, "indexes/index.idx", e.IDXPath, methodDeflate); err != nil {
		return err
	}
	if err := copyFileEntry(zw, "pages/pages.jsonl", e.PagesPath, methodDeflate); err != nil {
		return err
	}
	if err := copyFileEntry(zw, "pages/extraPages.jsonl", e.ExtraPath, methodDeflate); err != nil {
		return err
	}
	for _, wf := range e.WarcFiles {
		if err := copyFileEntry(zw, "archive/"+wf.Name, e.WarcDir+"/"+wf.Name, methodStore); err != nil {
			return err
		}
	}

	return zw.Close()
}

func writeDir(zw *zip.Writer, name string, method uint16) error {
	_, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	return err
}

func writeFileEntry(zw *zip.Writer, name string, data []byte, method uint16) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func copyFileEntry(zw *zip.Writer, name, diskPath string, method uint16) error {
	f, err := os.Open(diskPath)
	if err != nil {
		return fmt.Errorf("wacz: opening %s: %w", diskPath, err)
	}
	defer f.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

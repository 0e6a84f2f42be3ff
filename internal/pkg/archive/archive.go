// Package archive is the content-addressed store behind model.Archive: blobs
// are written once, keyed by a SURT string with a content hash as the body's
// address, and are never mutated afterwards. It plays the role the original
// client's Storage (cacache + lz4_flex) played, rebuilt on afero plus a
// goleveldb metadata index so List can iterate records in key order.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/spf13/afero"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/zeebo/xxh3"

	"github.com/kore-signet/evergarden/internal/pkg/model"
)

// record is the JSON value stored in the metadata index under a SURT key.
type record struct {
	Integrity string                 `json:"integrity"`
	Meta      *model.ResponseMetadata `json:"meta"`
	Timestamp int64                  `json:"timestamp"`
}

// Store is the on-disk content-addressed archive. It implements
// model.Archive.
type Store struct {
	fs       afero.Fs
	blobsDir string
	index    *leveldb.DB

	mu sync.Mutex
}

// infoKey is the reserved index key CrawlInfo is stored under. It can never
// collide with a SURT key since those never contain NUL.
const infoKey = "\x00crawlinfo"

// Open creates or reopens a Store rooted at dir. When dropExisting is true
// (the inverse of a --no-clobber flag), any previously stored records and
// blobs are removed first.
func Open(dir string, dropExisting bool) (*Store, error) {
	fs := afero.NewOsFs()
	blobsDir := filepath.Join(dir, "blobs")
	indexDir := filepath.Join(dir, "index")

	if dropExisting {
		if err := fs.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
			return nil, model.WrapIO(err)
		}
	}

	if err := fs.MkdirAll(blobsDir, 0o755); err != nil {
		return nil, model.WrapIO(err)
	}

	db, err := leveldb.OpenFile(indexDir, nil)
	if err != nil {
		return nil, model.WrapCache(err)
	}

	return &Store{fs: fs, blobsDir: blobsDir, index: db}, nil
}

func blobPath(root, integrity string) string {
	if len(integrity) < 4 {
		return filepath.Join(root, integrity)
	}
	return filepath.Join(root, integrity[:2], integrity[2:4], integrity)
}

// Put streams body into a new lz4-framed blob, hashes it with xxh3 (the same
// fast non-cryptographic hash the original Storage used for content
// addressing), and records key -> {integrity, meta, timestamp} in the index.
// The blob is written to a temp file first and renamed into place only once
// it is complete; the index entry is written after that, so a failed Put never
// leaves a partial record visible to readers.
func (s *Store) Put(key string, meta *model.ResponseMetadata, timestamp int64, body io.Reader) (string, error) {
	tmp, err := afero.TempFile(s.fs, s.blobsDir, "put-*")
	if err != nil {
		return "", model.WrapIO(err)
	}
	tmpName := tmp.Name()
	defer s.fs.Remove(tmpName)

	hasher := xxh3.New()
	writer := lz4.NewWriter(tmp)
	teed := io.TeeReader(body, hasher)

	if _, err := io.Copy(writer, teed); err != nil {
		tmp.Close()
		return "", model.WrapIO(err)
	}
	if err := writer.Close(); err != nil {
		tmp.Close()
		return "", model.WrapCompression(err)
	}
	if err := tmp.Close(); err != nil {
		return "", model.WrapIO(err)
	}

	integrity := fmt.Sprintf("xxh3-%x", hasher.Sum128().Bytes())
	dest := blobPath(s.blobsDir, integrity)

	if err := s.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", model.WrapIO(err)
	}

	if exists, _ := afero.Exists(s.fs, dest); !exists {
		if err := s.fs.Rename(tmpName, dest); err != nil {
			return "", model.WrapIO(err)
		}
	}

	rec := record{Integrity: integrity, Meta: meta, Timestamp: timestamp}
	encoded, err := json.Marshal(rec)
	if err != nil {
		return "", model.WrapJSON(err)
	}

	s.mu.Lock()
	err = s.index.Put([]byte(key), encoded, nil)
	s.mu.Unlock()
	if err != nil {
		return "", model.WrapCache(err)
	}

	return integrity, nil
}

// GetMeta returns the metadata recorded under key, or (nil, nil) if absent.
func (s *Store) GetMeta(key string) (*model.ResponseMetadata, error) {
	rec, ok, err := s.lookup(key)
	if err != nil || !ok {
		return nil, err
	}
	return rec.Meta, nil
}

// GetRecord returns both the metadata and the blob integrity hash stored
// under key in a single index lookup, or ("", nil, nil) if absent.
func (s *Store) GetRecord(key string) (string, *model.ResponseMetadata, error) {
	rec, ok, err := s.lookup(key)
	if err != nil || !ok {
		return "", nil, err
	}
	return rec.Integrity, rec.Meta, nil
}

func (s *Store) lookup(key string) (record, bool, error) {
	s.mu.Lock()
	raw, err := s.index.Get([]byte(key), nil)
	s.mu.Unlock()

	if err == leveldb.ErrNotFound {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, model.WrapCache(err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return record{}, false, model.WrapJSON(err)
	}
	return rec, true, nil
}

// GetBody opens the lz4-framed blob addressed by integrity.
func (s *Store) GetBody(integrity string) (io.ReadCloser, error) {
	path := blobPath(s.blobsDir, integrity)
	f, err := s.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, model.WrapIO(err)
	}
	return &lz4ReadCloser{reader: lz4.NewReader(f), under: f}, nil
}

type lz4ReadCloser struct {
	reader *lz4.Reader
	under  io.Closer
}

func (r *lz4ReadCloser) Read(p []byte) (int, error) { return r.reader.Read(p) }
func (r *lz4ReadCloser) Close() error                { return r.under.Close() }

// Exists reports whether a blob with the given integrity hash is present.
func (s *Store) Exists(integrity string) (bool, error) {
	ok, err := afero.Exists(s.fs, blobPath(s.blobsDir, integrity))
	if err != nil {
		return false, model.WrapIO(err)
	}
	return ok, nil
}

// List invokes fn once per stored record in key order, stopping at the first
// error returned by fn or hit while iterating the index.
func (s *Store) List(fn func(model.ArchiveEntry) error) error {
	s.mu.Lock()
	iter := s.index.NewIterator(nil, nil)
	s.mu.Unlock()
	defer iter.Release()

	for iter.Next() {
		if string(iter.Key()) == infoKey {
			continue
		}
		if err := visit(iter, fn); err != nil {
			return err
		}
	}
	return iter.Error()
}

func visit(iter iterator.Iterator, fn func(model.ArchiveEntry) error) error {
	var rec record
	if err := json.Unmarshal(iter.Value(), &rec); err != nil {
		return model.WrapJSON(err)
	}
	return fn(model.ArchiveEntry{
		Key:       string(iter.Key()),
		Integrity: rec.Integrity,
		Meta:      rec.Meta,
	})
}

// Delete removes the index entry for key. The underlying blob is left in
// place since it may still be referenced by other keys with identical
// content.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Delete([]byte(key), nil); err != nil {
		return model.WrapCache(err)
	}
	return nil
}

// Clear destructively removes every record and blob in the archive.
func (s *Store) Clear() error {
	if err := s.List(func(e model.ArchiveEntry) error {
		return s.Delete(e.Key)
	}); err != nil {
		return err
	}
	if err := s.fs.RemoveAll(s.blobsDir); err != nil {
		return model.WrapIO(err)
	}
	return s.fs.MkdirAll(s.blobsDir, 0o755)
}

// WriteInfo records the CrawlInfo for this archive under a reserved key,
// written once at crawl start.
func (s *Store) WriteInfo(info *model.CrawlInfo) error {
	encoded, err := json.Marshal(info)
	if err != nil {
		return model.WrapJSON(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.index.Put([]byte(infoKey), encoded, nil); err != nil {
		return model.WrapCache(err)
	}
	return nil
}

// ReadInfo returns the CrawlInfo written by WriteInfo, or (nil, nil) if this
// archive has none.
func (s *Store) ReadInfo() (*model.CrawlInfo, error) {
	s.mu.Lock()
	raw, err := s.index.Get([]byte(infoKey), nil)
	s.mu.Unlock()

	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, model.WrapCache(err)
	}

	var info model.CrawlInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, model.WrapJSON(err)
	}
	return &info, nil
}

// Close releases the leveldb handle.
func (s *Store) Close() error {
	return s.index.Close()
}

var _ model.Archive = (*Store)(nil)

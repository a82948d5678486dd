package pipecache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// ErrCorruptBlob is returned by DiskStore.Load when a blob fails its header
// or checksum test. The file is removed before returning.
var ErrCorruptBlob = errors.New("pipecache: corrupt blob")

// blobMagic identifies files written by DiskStore.
var blobMagic = [4]byte{'R', 'H', 'P', 'C'}

// blobVersion is bumped whenever the payload layout produced by callers
// changes, so old files are discarded instead of misread.
const blobVersion = 1

// headerSize is magic(4) + version(4) + key hash(8) + length(8) + checksum(8).
const headerSize = 32

// DiskStore persists opaque blobs keyed by string, one file per key.
// Every blob is safe to delete at any time; a missing or corrupt file only
// costs a regeneration.
type DiskStore struct {
	dir string
}

// OpenDiskStore creates dir if needed and returns a store rooted there.
func OpenDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New("pipecache: empty cache directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pipecache: create %s: %w", dir, err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *DiskStore) Dir() string { return s.dir }

func keyHash(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

func checksum(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (s *DiskStore) path(key string) string {
	return filepath.Join(s.dir, strconv.FormatUint(keyHash(key), 16)+".blob")
}

// Load returns the blob stored for key. A missing file reports ok=false and
// no error.
func (s *DiskStore) Load(key string) (blob []byte, ok bool, err error) {
	p := s.path(key)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pipecache: read %s: %w", p, err)
	}

	payload, err := decodeBlob(data, keyHash(key))
	if err != nil {
		_ = os.Remove(p)
		return nil, false, err
	}
	return payload, true, nil
}

// Store writes blob for key. The file is written to a temporary name and
// renamed so readers never observe a partial blob.
func (s *DiskStore) Store(key string, blob []byte) error {
	data := encodeBlob(blob, keyHash(key))

	tmp, err := os.CreateTemp(s.dir, "blob-*.tmp")
	if err != nil {
		return fmt.Errorf("pipecache: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("pipecache: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("pipecache: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("pipecache: rename: %w", err)
	}
	return nil
}

// Remove deletes the blob for key if present.
func (s *DiskStore) Remove(key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("pipecache: remove: %w", err)
	}
	return nil
}

func encodeBlob(payload []byte, kh uint64) []byte {
	out := make([]byte, headerSize+len(payload))
	copy(out[0:4], blobMagic[:])
	binary.LittleEndian.PutUint32(out[4:8], blobVersion)
	binary.LittleEndian.PutUint64(out[8:16], kh)
	binary.LittleEndian.PutUint64(out[16:24], uint64(len(payload)))
	binary.LittleEndian.PutUint64(out[24:32], checksum(payload))
	copy(out[headerSize:], payload)
	return out
}

func decodeBlob(data []byte, kh uint64) ([]byte, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: short header", ErrCorruptBlob)
	}
	if [4]byte(data[0:4]) != blobMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptBlob)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != blobVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrCorruptBlob, v, blobVersion)
	}
	if binary.LittleEndian.Uint64(data[8:16]) != kh {
		return nil, fmt.Errorf("%w: key hash mismatch", ErrCorruptBlob)
	}
	n := binary.LittleEndian.Uint64(data[16:24])
	payload := data[headerSize:]
	if uint64(len(payload)) != n {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrCorruptBlob, len(payload), n)
	}
	if checksum(payload) != binary.LittleEndian.Uint64(data[24:32]) {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptBlob)
	}
	return payload, nil
}

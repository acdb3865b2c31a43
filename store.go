package tour

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"golang.org/x/crypto/chacha20poly1305"
)

// Backend defines the interface for snapshot and asset storage. This allows
// tours to live on the local filesystem, in SQLite, or in S3-compatible
// object storage.
type Backend interface {
	// Read reads a stored object.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write writes an object, replacing any previous version.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes an object.
	Delete(ctx context.Context, key string) error

	// List returns all keys matching a prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any resources.
	Close() error
}

// FileBackend implements Backend using the local filesystem.
type FileBackend struct {
	baseDir string
}

// NewFileBackend creates a file-based backend rooted at baseDir.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	absDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	return &FileBackend{baseDir: filepath.Clean(absDir)}, nil
}

// safePath validates and returns a path within the base directory. It
// rejects keys that would escape baseDir after cleaning.
func (f *FileBackend) safePath(key string) (string, error) {
	resolved := filepath.Clean(filepath.Join(f.baseDir, filepath.Clean(key)))
	if resolved != f.baseDir && !strings.HasPrefix(resolved, f.baseDir+string(os.PathSeparator)) {
		return "", errors.New("invalid key: path escapes base directory")
	}
	return resolved, nil
}

func (f *FileBackend) Read(ctx context.Context, key string) ([]byte, error) {
	path, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Write stores data under key. The write goes to a temporary file first and
// is renamed into place so that a crash mid-write cannot leave a truncated
// snapshot behind.
func (f *FileBackend) Write(ctx context.Context, key string, data []byte) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (f *FileBackend) Delete(ctx context.Context, key string) error {
	path, err := f.safePath(key)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

func (f *FileBackend) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath, err := f.safePath(prefix)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = filepath.Walk(searchPath, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !info.IsDir() && !strings.HasSuffix(path, ".tmp") {
			rel, _ := filepath.Rel(f.baseDir, path)
			keys = append(keys, filepath.ToSlash(rel))
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	return keys, err
}

func (f *FileBackend) Exists(ctx context.Context, key string) (bool, error) {
	path, err := f.safePath(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (f *FileBackend) Close() error {
	return nil
}

const snapshotSuffix = ".json"

// TourStore persists one tour snapshot per identity on top of a Backend.
// Snapshots are stored as pretty-printed JSON, optionally snappy-compressed
// and optionally encrypted at rest.
type TourStore struct {
	backend Backend
	config  StoreConfig
	aead    cipher.AEAD
}

// NewTourStore creates a store over the given backend.
func NewTourStore(backend Backend, cfg StoreConfig) (*TourStore, error) {
	s := &TourStore{backend: backend, config: cfg}
	key, err := cfg.encryptionKey()
	if err != nil {
		return nil, err
	}
	if key != nil {
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("init encryption: %w", err)
		}
		s.aead = aead
	}
	return s, nil
}

// Load reads and decodes the snapshot for id. A missing snapshot returns an
// error matching ErrTourNotFound. A snapshot that exists but cannot be
// decoded also matches ErrTourNotFound so callers fall back to the default
// seed; the corruption is logged by the caller, not fatal.
func (s *TourStore) Load(ctx context.Context, id string) (*Tour, error) {
	raw, err := s.backend.Read(ctx, id+snapshotSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newStoreError(StoreErrorTypeNotFound, "no snapshot", id, nil)
		}
		return nil, newStoreError(StoreErrorTypeRead, "read snapshot", id, err)
	}

	data, err := s.decode(raw)
	if err != nil {
		return nil, newStoreError(StoreErrorTypeDecode, "decode snapshot", id, err)
	}
	var t Tour
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, newStoreError(StoreErrorTypeDecode, "decode snapshot", id, err)
	}
	return &t, nil
}

// Save writes the full current tour for id, overwriting the previous
// snapshot. Diffs are never persisted; the snapshot is always complete.
func (s *TourStore) Save(ctx context.Context, id string, t *Tour) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "encode snapshot", id, err)
	}
	raw, err := s.encode(data)
	if err != nil {
		return newStoreError(StoreErrorTypeWrite, "encode snapshot", id, err)
	}
	if err := s.backend.Write(ctx, id+snapshotSuffix, raw); err != nil {
		return newStoreError(StoreErrorTypeWrite, "write snapshot", id, err)
	}
	return nil
}

// List returns the identities of all stored tours.
func (s *TourStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.backend.List(ctx, "")
	if err != nil {
		return nil, newStoreError(StoreErrorTypeRead, "list snapshots", "", err)
	}
	var ids []string
	for _, key := range keys {
		if strings.HasSuffix(key, snapshotSuffix) && !strings.Contains(key, "/") {
			ids = append(ids, strings.TrimSuffix(key, snapshotSuffix))
		}
	}
	return ids, nil
}

// Delete removes a stored tour snapshot.
func (s *TourStore) Delete(ctx context.Context, id string) error {
	return s.backend.Delete(ctx, id+snapshotSuffix)
}

// ReadAsset reads a stored binary asset such as a panorama image. Assets
// bypass snapshot compression and encryption.
func (s *TourStore) ReadAsset(ctx context.Context, key string) ([]byte, error) {
	return s.backend.Read(ctx, key)
}

// WriteAsset stores a binary asset.
func (s *TourStore) WriteAsset(ctx context.Context, key string, data []byte) error {
	return s.backend.Write(ctx, key, data)
}

// AssetExists checks whether a binary asset is stored.
func (s *TourStore) AssetExists(ctx context.Context, key string) (bool, error) {
	return s.backend.Exists(ctx, key)
}

// Close releases the underlying backend.
func (s *TourStore) Close() error {
	return s.backend.Close()
}

func (s *TourStore) encode(data []byte) ([]byte, error) {
	if s.config.Compression {
		data = snappy.Encode(nil, data)
	}
	if s.aead != nil {
		nonce := make([]byte, s.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, err
		}
		data = s.aead.Seal(nonce, nonce, data, nil)
	}
	return data, nil
}

func (s *TourStore) decode(raw []byte) ([]byte, error) {
	if s.aead != nil {
		if len(raw) < s.aead.NonceSize() {
			return nil, errors.New("snapshot shorter than nonce")
		}
		nonce, sealed := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
		plain, err := s.aead.Open(nil, nonce, sealed, nil)
		if err != nil {
			return nil, err
		}
		raw = plain
	}
	if s.config.Compression {
		decoded, err := snappy.Decode(nil, raw)
		if err != nil {
			return nil, err
		}
		raw = decoded
	}
	return raw, nil
}

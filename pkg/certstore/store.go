package certstore

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/crocs-muni/cevast/pkg/certutil"
	"github.com/crocs-muni/cevast/pkg/log"
	"github.com/crocs-muni/cevast/pkg/metrics"
	"github.com/crocs-muni/cevast/pkg/types"
)

// ReadOnlyStore is the read side of a certificate store: lookup,
// export to a directory, and existence checks. Implementations must be
// safe for concurrent use by multiple readers.
type ReadOnlyStore interface {
	Get(id types.CertificateID) (types.Certificate, error)
	Export(id types.CertificateID, targetDir string, copyIfExists bool) (string, error)
	Exists(id types.CertificateID) bool
	ExistsAll(ids []types.CertificateID) bool
}

// Store is a ReadOnlyStore plus the mutating operations of the
// implicit transaction: staged Insert/Delete, and Commit/Rollback to
// end it. A Store has exactly one writer; Commit/Rollback are not
// safe to call concurrently with each other or with Insert/Delete.
type Store interface {
	ReadOnlyStore
	Insert(id types.CertificateID, cert types.Certificate) error
	Delete(id types.CertificateID) error
	Rollback() error
	Commit(cores int) (inserted, deleted int, err error)
}

// SetupParams configures a new store at creation time.
type SetupParams struct {
	StructureLevel int
	CertFormat     types.CertFormat
	Owner          string
	Description    string
}

// Setup creates a new store directory and its configuration file.
// Returns ErrAlreadyExists if a store is already configured there.
func Setup(storagePath string, p SetupParams) error {
	storagePath, err := filepath.Abs(storagePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	if _, err := os.Stat(filepath.Join(storagePath, configFilename)); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, storagePath)
	}
	if p.StructureLevel < 0 {
		return fmt.Errorf("%w: structure_level %d must be a natural number", ErrInvalidArgument, p.StructureLevel)
	}
	if p.CertFormat == "" {
		p.CertFormat = types.CertFormatPEM
	}
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	params := types.StoreParameters{
		Storage:           storagePath,
		StructureLevel:    p.StructureLevel,
		CertFormat:        p.CertFormat,
		CompressionMethod: types.CompressionDeflated,
		MaintainInfo:      true,
	}
	if err := writeConfig(storagePath, params); err != nil {
		return err
	}
	meta := metaFile{
		Info: types.StoreInfo{
			Owner:       p.Owner,
			Description: p.Description,
			Created:     time.Now().Format("2006-01-02 15:04:05"),
		},
		History: map[string]types.HistoryEntry{},
	}
	return writeMeta(storagePath, meta)
}

// FileStore is the file-backed implementation of Store.
type FileStore struct {
	storage string
	params  types.StoreParameters
	logger  zerolog.Logger

	cache *existenceCache

	mu       sync.Mutex
	toInsert map[string]map[types.CertificateID]types.Certificate // blockID -> pending inserts
	toDelete map[string]map[types.CertificateID]struct{}          // blockID -> pending deletes
}

// Open opens an existing store at storagePath. Use Setup first if the
// store does not exist yet.
func Open(storagePath string) (*FileStore, error) {
	storagePath, err := filepath.Abs(storagePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	params, err := readConfig(storagePath)
	if err != nil {
		return nil, err
	}
	s := &FileStore{
		storage:  storagePath,
		params:   params,
		logger:   log.WithComponent("certstore"),
		cache:    openExistenceCache(filepath.Join(storagePath, cacheFilename)),
		toInsert: make(map[string]map[types.CertificateID]types.Certificate),
		toDelete: make(map[string]map[types.CertificateID]struct{}),
	}
	s.logger.Info().Str("storage", storagePath).Msg("store opened")
	return s, nil
}

// Close releases the store's persisted existence cache handle.
func (s *FileStore) Close() error {
	return s.cache.Close()
}

func (s *FileStore) blockID(id types.CertificateID) string {
	return certutil.BlockID(s.storage, string(id), s.params.StructureLevel)
}

func (s *FileStore) blockPath(id types.CertificateID) string {
	return certutil.BlockPath(s.storage, string(id), s.params.StructureLevel)
}

// Get returns a certificate's bytes, checking the open transaction's
// pending inserts before falling back to the persisted archive.
func (s *FileStore) Get(id types.CertificateID) (types.Certificate, error) {
	block := s.blockID(id)

	s.mu.Lock()
	if pending, ok := s.toInsert[block]; ok {
		if cert, ok := pending[id]; ok {
			s.mu.Unlock()
			return cert, nil
		}
	}
	if pending, ok := s.toDelete[block]; ok {
		if _, ok := pending[id]; ok {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrNotAvailable, id)
		}
	}
	s.mu.Unlock()
	cert, err := s.getPersisted(id)
	if err != nil {
		s.cache.Remove(id, block)
	}
	return cert, err
}

func (s *FileStore) getPersisted(id types.CertificateID) (types.Certificate, error) {
	zipPath := s.blockPath(id) + ".zip"
	filename := certutil.MakePEMFilename(string(id))

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAvailable, id)
	}
	defer r.Close()

	f, err := r.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAvailable, id)
	}
	defer f.Close()

	data := make([]byte, 0)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}
	return types.Certificate(data), nil
}

// Export writes a certificate out to targetDir and returns its path.
// When copyIfExists is false and the certificate is still in an open
// transaction, the pending temp file's own path is returned instead of
// a copy; the caller must consume it before the transaction commits or
// rolls back.
func (s *FileStore) Export(id types.CertificateID, targetDir string, copyIfExists bool) (string, error) {
	filename := certutil.MakePEMFilename(string(id))
	block := s.blockID(id)

	s.mu.Lock()
	if pending, ok := s.toInsert[block]; ok {
		if _, ok := pending[id]; ok {
			srcPath := filepath.Join(s.blockPath(id), filename)
			s.mu.Unlock()
			if !copyIfExists {
				return srcPath, nil
			}
			dstPath := filepath.Join(targetDir, filename)
			if err := copyFile(srcPath, dstPath); err != nil {
				return "", fmt.Errorf("%w: %v", ErrStorageError, err)
			}
			return dstPath, nil
		}
	}
	if pending, ok := s.toDelete[block]; ok {
		if _, ok := pending[id]; ok {
			s.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrNotAvailable, id)
		}
	}
	s.mu.Unlock()

	zipPath := s.blockPath(id) + ".zip"
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		s.cache.Remove(id, block)
		return "", fmt.Errorf("%w: %s", ErrNotAvailable, id)
	}
	defer r.Close()

	f, err := r.Open(filename)
	if err != nil {
		s.cache.Remove(id, block)
		return "", fmt.Errorf("%w: %s", ErrNotAvailable, id)
	}
	defer f.Close()

	if err := os.MkdirAll(targetDir, 0755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	dstPath := filepath.Join(targetDir, filename)
	out, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	defer out.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return "", fmt.Errorf("%w: %v", ErrStorageError, werr)
			}
		}
		if rerr != nil {
			break
		}
	}
	return dstPath, nil
}

// Exists reports whether a certificate is known to the store: pending
// inserts count as present, pending deletes as absent (even if still
// persisted), before falling back to the advisory cache and then the
// authoritative archive lookup.
func (s *FileStore) Exists(id types.CertificateID) bool {
	block := s.blockID(id)

	s.mu.Lock()
	if pending, ok := s.toInsert[block]; ok {
		if _, ok := pending[id]; ok {
			s.mu.Unlock()
			return true
		}
	}
	if pending, ok := s.toDelete[block]; ok {
		if _, ok := pending[id]; ok {
			s.mu.Unlock()
			return false
		}
	}
	s.mu.Unlock()

	if s.cache.Has(id) {
		metrics.StoreExistenceCacheHits.WithLabelValues(s.storage, "hit").Inc()
		return true
	}

	zipPath := s.blockPath(id) + ".zip"
	filename := certutil.MakePEMFilename(string(id))
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		metrics.StoreExistenceCacheHits.WithLabelValues(s.storage, "miss").Inc()
		return false
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name == filename {
			s.cache.Add(id, block)
			metrics.StoreExistenceCacheHits.WithLabelValues(s.storage, "stale").Inc()
			return true
		}
	}
	metrics.StoreExistenceCacheHits.WithLabelValues(s.storage, "miss").Inc()
	return false
}

// ExistsAll reports whether every id in ids exists.
func (s *FileStore) ExistsAll(ids []types.CertificateID) bool {
	for _, id := range ids {
		if !s.Exists(id) {
			return false
		}
	}
	return true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			break
		}
	}
	return nil
}

package certstore

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/crocs-muni/cevast/pkg/certutil"
	"github.com/crocs-muni/cevast/pkg/metrics"
	"github.com/crocs-muni/cevast/pkg/types"
)

// Insert stages a certificate for writing on the next Commit. A
// certificate already pending insert, or already persisted under the
// same id, is silently dropped (first-writer-wins): the persisted or
// first-staged bytes remain authoritative.
func (s *FileStore) Insert(id types.CertificateID, cert types.Certificate) error {
	if id == "" || len(cert) == 0 {
		return fmt.Errorf("%w: id=%q", ErrInvalidCert, id)
	}

	block := s.blockID(id)
	blockPath := s.blockPath(id)

	s.mu.Lock()
	if _, ok := s.toInsert[block]; !ok {
		s.toInsert[block] = make(map[types.CertificateID]types.Certificate)
	}
	_, alreadyStaged := s.toInsert[block][id]
	s.mu.Unlock()
	if alreadyStaged {
		s.logger.Debug().Str("cert", string(id)).Msg("already staged for insert, dropping")
		return nil
	}
	if s.Exists(id) {
		s.logger.Debug().Str("cert", string(id)).Msg("already exists, dropping")
		return nil
	}

	if err := os.MkdirAll(blockPath, 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	tmpPath := filepath.Join(blockPath, certutil.MakePEMFilename(string(id)))
	if err := os.WriteFile(tmpPath, cert, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageError, err)
	}

	s.mu.Lock()
	s.toInsert[block][id] = cert
	s.mu.Unlock()
	s.logger.Debug().Str("cert", string(id)).Str("block", block).Msg("staged for insert")
	return nil
}

// Delete stages a certificate for deletion on the next Commit. If the
// certificate is still in an open transaction's pending inserts, it is
// removed immediately instead: it was never persisted.
func (s *FileStore) Delete(id types.CertificateID) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidCert)
	}

	block := s.blockID(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if pending, ok := s.toInsert[block]; ok {
		if _, ok := pending[id]; ok {
			tmpPath := filepath.Join(s.blockPath(id), certutil.MakePEMFilename(string(id)))
			delete(pending, id)
			s.logger.Debug().Str("cert", string(id)).Msg("deleted from open transaction")
			if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("%w: %v", ErrStorageError, err)
			}
			return nil
		}
	}

	if _, ok := s.toDelete[block]; !ok {
		s.toDelete[block] = make(map[types.CertificateID]struct{})
	}
	s.toDelete[block][id] = struct{}{}
	s.logger.Debug().Str("cert", string(id)).Msg("staged for delete")
	return nil
}

// Rollback discards all staged inserts and deletes without touching
// any persisted archive.
func (s *FileStore) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info().Msg("rollback started")
	for block, certs := range s.toInsert {
		blockPath := certutil.BlockPath(s.storage, block, s.params.StructureLevel)
		for id := range certs {
			tmpPath := filepath.Join(blockPath, certutil.MakePEMFilename(string(id)))
			if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("%w: %v", ErrStorageError, err)
			}
		}
	}
	s.toInsert = make(map[string]map[types.CertificateID]types.Certificate)
	s.toDelete = make(map[string]map[types.CertificateID]struct{})
	removeEmptyDirs(s.storage)
	metrics.StoreCommitsTotal.WithLabelValues(s.storage, "rolled_back").Inc()
	s.logger.Info().Msg("rollback finished")
	return nil
}

// Commit persists staged deletes then staged inserts, one block
// archive at a time, using up to cores goroutines in flight. Deletes
// are always applied before inserts within a commit, matching the
// store's ordering invariant. Returns the number of certificates
// inserted and deleted.
func (s *FileStore) Commit(cores int) (int, int, error) {
	if cores < 1 {
		cores = 1
	}

	s.mu.Lock()
	toDelete := s.toDelete
	toInsert := s.toInsert
	s.toDelete = make(map[string]map[types.CertificateID]struct{})
	s.toInsert = make(map[string]map[types.CertificateID]types.Certificate)
	s.mu.Unlock()

	timer := metrics.NewTimer()
	s.logger.Info().Msg("commit started")

	deleted, err := s.commitDeletes(toDelete, cores)
	if err != nil {
		return 0, deleted, err
	}
	inserted, err := s.commitInserts(toInsert, cores)
	if err != nil {
		return inserted, deleted, err
	}

	removeEmptyDirs(s.storage)
	if s.params.MaintainInfo {
		if err := s.recordHistory(inserted, deleted); err != nil {
			s.logger.Warn().Err(err).Msg("failed to update metadata")
		}
	}

	metrics.StoreCommitsTotal.WithLabelValues(s.storage, "ok").Inc()
	timer.ObserveDurationVec(metrics.StoreCommitDuration, s.storage)
	metrics.StoreInsertsTotal.WithLabelValues(s.storage).Add(float64(inserted))
	metrics.StoreDeletesTotal.WithLabelValues(s.storage).Add(float64(deleted))
	metrics.StoreCertificatesTotal.WithLabelValues(s.storage).Add(float64(inserted - deleted))
	s.logger.Info().Int("inserted", inserted).Int("deleted", deleted).Msg("commit finished")
	return inserted, deleted, nil
}

func (s *FileStore) recordHistory(inserted, deleted int) error {
	meta, err := readMeta(s.storage)
	if err != nil {
		return err
	}
	appendHistory(&meta, inserted, deleted)
	return writeMeta(s.storage, meta)
}

// commitDeletes rewrites each affected block archive, dropping the
// staged certificate ids, bounded by a pool of cores worker goroutines.
func (s *FileStore) commitDeletes(toDelete map[string]map[types.CertificateID]struct{}, cores int) (int, error) {
	type result struct {
		count int
		err   error
	}
	results := make(chan result, len(toDelete))
	sem := make(chan struct{}, cores)
	var wg sync.WaitGroup

	for block, certs := range toDelete {
		block, certs := block, certs
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			n, err := deleteFromBlock(certutil.BlockPath(s.storage, block, s.params.StructureLevel), certs)
			results <- result{count: n, err: err}
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for r := range results {
		if r.err != nil {
			return total, r.err
		}
		total += r.count
	}

	s.mu.Lock()
	for block := range toDelete {
		for id := range toDelete[block] {
			s.cache.Remove(id, block)
		}
	}
	s.mu.Unlock()
	return total, nil
}

// commitInserts moves staged certificate files into each block
// archive, bounded by a pool of cores worker goroutines.
func (s *FileStore) commitInserts(toInsert map[string]map[types.CertificateID]types.Certificate, cores int) (int, error) {
	type result struct {
		count int
		err   error
	}
	results := make(chan result, len(toInsert))
	sem := make(chan struct{}, cores)
	var wg sync.WaitGroup

	for block, certs := range toInsert {
		block, certs := block, certs
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			n, err := persistToBlock(certutil.BlockPath(s.storage, block, s.params.StructureLevel), certs)
			results <- result{count: n, err: err}
		}()
	}
	wg.Wait()
	close(results)

	total := 0
	for r := range results {
		if r.err != nil {
			return total, r.err
		}
		total += r.count
	}

	s.mu.Lock()
	for block := range toInsert {
		for id := range toInsert[block] {
			s.cache.Add(id, block)
		}
	}
	s.mu.Unlock()
	return total, nil
}

// deleteFromBlock rewrites a block's zip archive without the given
// certificate ids, replacing the original file only once the rewrite
// succeeds.
func deleteFromBlock(blockPath string, certs map[types.CertificateID]struct{}) (int, error) {
	zipPath := blockPath + ".zip"
	if _, err := os.Stat(zipPath); os.IsNotExist(err) {
		return 0, nil
	}

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	defer r.Close()

	newPath := zipPath + "_new"
	out, err := os.Create(newPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	w := zip.NewWriter(out)

	deleted := 0
	kept := 0
	for _, f := range r.File {
		id := certIDFromFilename(f.Name)
		if _, drop := certs[id]; drop {
			deleted++
			continue
		}
		kept++
		if err := w.Copy(f); err != nil {
			w.Close()
			out.Close()
			os.Remove(newPath)
			return 0, fmt.Errorf("%w: %v", ErrStorageError, err)
		}
	}
	if err := w.Close(); err != nil {
		out.Close()
		os.Remove(newPath)
		return 0, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	out.Close()
	r.Close()

	if err := os.Remove(zipPath); err != nil {
		os.Remove(newPath)
		return 0, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	if kept == 0 {
		return deleted, os.Remove(newPath)
	}
	return deleted, os.Rename(newPath, zipPath)
}

// persistToBlock writes the given pending certificates into a block's
// zip archive, creating it if necessary. archive/zip has no true
// append mode, so an existing archive is rewritten: its entries are
// copied verbatim (no decompress/recompress) via (*zip.Writer).Copy,
// then the new certificates are added, and the temp file is swapped in
// atomically once the rewrite succeeds. Staged temp files are removed
// once they are either persisted or found already present.
func persistToBlock(blockPath string, certs map[types.CertificateID]types.Certificate) (int, error) {
	if len(certs) == 0 {
		return 0, nil
	}
	zipPath := blockPath + ".zip"

	var reader *zip.ReadCloser
	existing := map[string]struct{}{}
	if r, err := zip.OpenReader(zipPath); err == nil {
		reader = r
		for _, f := range r.File {
			existing[f.Name] = struct{}{}
		}
	}
	if reader != nil {
		defer reader.Close()
	}

	newPath := zipPath + "_new"
	out, err := os.Create(newPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	w := zip.NewWriter(out)

	if reader != nil {
		for _, f := range reader.File {
			if err := w.Copy(f); err != nil {
				w.Close()
				out.Close()
				os.Remove(newPath)
				return 0, fmt.Errorf("%w: %v", ErrStorageError, err)
			}
		}
	}

	inserted := 0
	for id, cert := range certs {
		filename := certutil.MakePEMFilename(string(id))
		tmpPath := filepath.Join(blockPath, filename)
		if _, already := existing[filename]; !already {
			fw, err := w.Create(filename)
			if err != nil {
				w.Close()
				out.Close()
				os.Remove(newPath)
				return inserted, fmt.Errorf("%w: %v", ErrStorageError, err)
			}
			if _, err := fw.Write(cert); err != nil {
				w.Close()
				out.Close()
				os.Remove(newPath)
				return inserted, fmt.Errorf("%w: %v", ErrStorageError, err)
			}
			inserted++
		}
		os.Remove(tmpPath)
	}
	if err := w.Close(); err != nil {
		out.Close()
		os.Remove(newPath)
		return inserted, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	out.Close()
	if reader != nil {
		reader.Close()
	}

	if err := os.Rename(newPath, zipPath); err != nil {
		return inserted, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	return inserted, nil
}

func certIDFromFilename(name string) types.CertificateID {
	ext := filepath.Ext(name)
	return types.CertificateID(name[:len(name)-len(ext)])
}

func removeEmptyDirs(root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(root, e.Name())
		removeEmptyDirs(path)
		if remaining, err := os.ReadDir(path); err == nil && len(remaining) == 0 {
			os.Remove(path)
		}
	}
}

package certstore

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/crocs-muni/cevast/pkg/types"
)

// CacheReport summarizes one RebuildCache run: how many archive
// members were found on disk, how many distinct certificate ids were
// written into the rebuilt cache, and how many stale entries the old
// cache carried that no longer correspond to any archive member.
type CacheReport struct {
	ArchiveMembers int
	CachedIDs      int
	StaleEntries   int
}

// RebuildCache walks every zip archive under storagePath and rewrites
// the store's persisted existence cache to match exactly what those
// archives contain, discarding whatever the cache held before. It does
// not touch the archives themselves and is safe to run against a
// store with no open transaction. Use it after restoring a store from
// backup or after any operation suspected to have left the advisory
// cache out of sync with the authoritative archives.
func RebuildCache(storagePath string, dryRun bool) (CacheReport, error) {
	storagePath, err := filepath.Abs(storagePath)
	if err != nil {
		return CacheReport{}, fmt.Errorf("%w: %v", ErrStorageError, err)
	}
	if _, err := readConfig(storagePath); err != nil {
		return CacheReport{}, err
	}

	members, err := scanArchiveMembers(storagePath)
	if err != nil {
		return CacheReport{}, err
	}

	report := CacheReport{}
	distinct := make(map[types.CertificateID]struct{})
	for _, ids := range members {
		report.ArchiveMembers += len(ids)
		for _, id := range ids {
			distinct[id] = struct{}{}
		}
	}
	report.CachedIDs = len(distinct)

	cachePath := filepath.Join(storagePath, cacheFilename)
	old := openExistenceCache(cachePath)
	for id := range old.mem {
		if _, known := findBlock(members, id); !known {
			report.StaleEntries++
		}
	}
	_ = old.Close()

	if dryRun {
		return report, nil
	}

	if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
		return report, fmt.Errorf("%w: remove stale cache: %v", ErrStorageError, err)
	}

	db, err := bolt.Open(cachePath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return report, fmt.Errorf("%w: open cache: %v", ErrStorageError, err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		for blockID, ids := range members {
			b, err := tx.CreateBucketIfNotExists([]byte(blockID))
			if err != nil {
				return err
			}
			for _, id := range ids {
				if err := b.Put([]byte(id), nil); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("%w: rebuild cache: %v", ErrStorageError, err)
	}
	return report, nil
}

// scanArchiveMembers walks storagePath for block archives (".zip"
// files) and lists the certificate ids each one contains, keyed by the
// block id the archive's own filename encodes.
func scanArchiveMembers(storagePath string) (map[string][]types.CertificateID, error) {
	members := make(map[string][]types.CertificateID)
	err := filepath.Walk(storagePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".zip") {
			return nil
		}
		blockID := strings.TrimSuffix(filepath.Base(path), ".zip")

		r, err := zip.OpenReader(path)
		if err != nil {
			return fmt.Errorf("%w: open archive %s: %v", ErrStorageError, path, err)
		}
		defer r.Close()

		for _, f := range r.File {
			id := strings.TrimSuffix(f.Name, filepath.Ext(f.Name))
			members[blockID] = append(members[blockID], types.CertificateID(id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func findBlock(members map[string][]types.CertificateID, id types.CertificateID) (string, bool) {
	for blockID, ids := range members {
		for _, known := range ids {
			if known == id {
				return blockID, true
			}
		}
	}
	return "", false
}

package certstore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/crocs-muni/cevast/pkg/types"
)

const (
	configFilename = "CertFileDB.toml"
	metaFilename   = ".CertFileDB-META.toml"
)

type configFile struct {
	Parameters types.StoreParameters `toml:"PARAMETERS"`
}

type metaFile struct {
	Info    types.StoreInfo                 `toml:"INFO"`
	History map[string]types.HistoryEntry    `toml:"HISTORY"`
}

func writeConfig(storage string, params types.StoreParameters) error {
	data, err := toml.Marshal(configFile{Parameters: params})
	if err != nil {
		return fmt.Errorf("%w: marshal config: %v", ErrStorageError, err)
	}
	if err := os.WriteFile(filepath.Join(storage, configFilename), data, 0644); err != nil {
		return fmt.Errorf("%w: write config: %v", ErrStorageError, err)
	}
	return nil
}

func readConfig(storage string) (types.StoreParameters, error) {
	path := filepath.Join(storage, configFilename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return types.StoreParameters{}, fmt.Errorf("%w: %q does not exist, call Setup first", ErrStorageError, storage)
	}
	if err != nil {
		return types.StoreParameters{}, fmt.Errorf("%w: read config: %v", ErrStorageError, err)
	}
	var cfg configFile
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return types.StoreParameters{}, fmt.Errorf("%w: parse config %q: %v", ErrStorageError, path, err)
	}
	return cfg.Parameters, nil
}

func writeMeta(storage string, meta metaFile) error {
	data, err := toml.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %v", ErrStorageError, err)
	}
	if err := os.WriteFile(filepath.Join(storage, metaFilename), data, 0644); err != nil {
		return fmt.Errorf("%w: write metadata: %v", ErrStorageError, err)
	}
	return nil
}

func readMeta(storage string) (metaFile, error) {
	path := filepath.Join(storage, metaFilename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return metaFile{History: map[string]types.HistoryEntry{}}, nil
	}
	if err != nil {
		return metaFile{}, fmt.Errorf("%w: read metadata: %v", ErrStorageError, err)
	}
	var meta metaFile
	if err := toml.Unmarshal(data, &meta); err != nil {
		return metaFile{}, fmt.Errorf("%w: parse metadata %q: %v", ErrStorageError, path, err)
	}
	if meta.History == nil {
		meta.History = map[string]types.HistoryEntry{}
	}
	return meta, nil
}

// appendHistory records one commit's insert/delete counts under the
// next natural-number key and refreshes the running totals in Info.
func appendHistory(meta *metaFile, inserted, deleted int) {
	key := fmt.Sprintf("%d", len(meta.History)+1)
	now := time.Now().Format("2006-01-02 15:04:05")
	meta.History[key] = types.HistoryEntry{
		Date:     now,
		Inserted: inserted,
		Deleted:  deleted,
	}
	meta.Info.NumberOfCertificates += inserted - deleted
	meta.Info.LastCommit = now
}

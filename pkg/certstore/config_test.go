package certstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crocs-muni/cevast/pkg/types"
)

func TestWriteReadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	params := types.StoreParameters{
		Storage:           dir,
		StructureLevel:    3,
		CertFormat:        types.CertFormatPEM,
		CompressionMethod: types.CompressionDeflated,
		MaintainInfo:      true,
	}
	require.NoError(t, writeConfig(dir, params))

	got, err := readConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, params, got)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := readConfig(t.TempDir())
	assert.Error(t, err)
}

func TestAppendHistoryUpdatesInfo(t *testing.T) {
	meta := metaFile{History: map[string]types.HistoryEntry{}}
	appendHistory(&meta, 5, 1)
	assert.Equal(t, 4, meta.Info.NumberOfCertificates)
	assert.Len(t, meta.History, 1)
	assert.Equal(t, 5, meta.History["1"].Inserted)
	assert.Equal(t, 1, meta.History["1"].Deleted)

	appendHistory(&meta, 2, 0)
	assert.Equal(t, 6, meta.Info.NumberOfCertificates)
	assert.Len(t, meta.History, 2)
	assert.Equal(t, 2, meta.History["2"].Inserted)
}

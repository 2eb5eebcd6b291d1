package dataset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crocs-muni/cevast/pkg/types"
)

func TestRepositoryGetFiltersByPrefix(t *testing.T) {
	root := t.TempDir()
	create(t, filepath.Join(root, "RAPID", "UNIFIED", "20200612.gz"))
	create(t, filepath.Join(root, "RAPID", "UNIFIED", "20200612_443.gz"))
	create(t, filepath.Join(root, "RAPID", "COLLECTED", "20200612.raw"))

	repo, err := NewRepository(root)
	require.NoError(t, err)

	got, err := repo.Get("RAPID", types.StateUnified, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"20200612.gz", "20200612_443.gz"}, got)

	got, err = repo.Get("RAPID", types.StateUnified, "20200612_")
	require.NoError(t, err)
	assert.Equal(t, []string{"20200612_443.gz"}, got)

	got, err = repo.Get("MISSING", types.StateUnified, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRepositoryDumps(t *testing.T) {
	root := t.TempDir()
	create(t, filepath.Join(root, "RAPID", "UNIFIED", "20200612.gz"))
	create(t, filepath.Join(root, "RAPID", "ANALYSED", "20200612.csv"))
	create(t, filepath.Join(root, "CENSYS", "UNIFIED", "20200612.gz"))

	repo, err := NewRepository(root)
	require.NoError(t, err)

	all, err := repo.Dumps("", "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.ElementsMatch(t, []string{"20200612.gz"}, all["RAPID"][types.StateUnified])
	assert.ElementsMatch(t, []string{"20200612.csv"}, all["RAPID"][types.StateAnalysed])
	assert.ElementsMatch(t, []string{"20200612.gz"}, all["CENSYS"][types.StateUnified])

	onlyRapid, err := repo.Dumps("RAPID", "", "")
	require.NoError(t, err)
	assert.Len(t, onlyRapid, 1)
	assert.Contains(t, onlyRapid, "RAPID")

	onlyUnified, err := repo.Dumps("", types.StateUnified, "")
	require.NoError(t, err)
	assert.NotContains(t, onlyUnified["RAPID"], types.StateAnalysed)
}

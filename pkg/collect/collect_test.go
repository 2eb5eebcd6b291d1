package collect

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crocs-muni/cevast/pkg/types"
)

func TestLocalCollectorCollectsMatchingFixtures(t *testing.T) {
	fixtures := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "20200612_443_certs.gz"), []byte("certs"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "20200612_8443_certs.gz"), []byte("certs"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "20200613_443_certs.gz"), []byte("certs"), 0o644))

	c := &LocalCollector{Source: "RAPID", FixtureDir: fixtures}
	repo := t.TempDir()

	date, err := time.Parse("20060102", "20200612")
	require.NoError(t, err)

	datasets, err := c.Collect(context.Background(), repo, date, []string{"443"})
	require.NoError(t, err)
	require.Len(t, datasets, 1)
	assert.Equal(t, "20200612", datasets[0].DateID)
	assert.Equal(t, "443", datasets[0].Port)
	assert.FileExists(t, filepath.Join(repo, "RAPID", string(types.StateCollected), "20200612_443_certs.gz"))
}

func TestLocalCollectorWithoutPortFilterCollectsAll(t *testing.T) {
	fixtures := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "20200612_443_certs.gz"), []byte("certs"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fixtures, "20200612_8443_certs.gz"), []byte("certs"), 0o644))

	c := &LocalCollector{Source: "RAPID", FixtureDir: fixtures}
	repo := t.TempDir()
	date, err := time.Parse("20060102", "20200612")
	require.NoError(t, err)

	datasets, err := c.Collect(context.Background(), repo, date, nil)
	require.NoError(t, err)
	assert.Len(t, datasets, 2)
}

func TestLocalCollectorRespectsCancelledContext(t *testing.T) {
	c := &LocalCollector{Source: "RAPID", FixtureDir: t.TempDir()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Collect(ctx, t.TempDir(), time.Now(), nil)
	assert.Error(t, err)
}

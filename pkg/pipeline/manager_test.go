package pipeline

import (
	"compress/gzip"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crocs-muni/cevast/pkg/certstore"
	"github.com/crocs-muni/cevast/pkg/collect"
	"github.com/crocs-muni/cevast/pkg/types"
)

// writeGzip writes lines, newline-joined, gzip-compressed, to path.
func writeGzip(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	for _, l := range lines {
		_, err := gz.Write([]byte(l + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, gz.Close())
}

func selfSignedLeafPEM(t *testing.T) string {
	t.Helper()
	// A minimal self-signed certificate is not required here: the store
	// and unifier only need opaque bytes to round-trip, so a small
	// deterministic payload stands in for real DER.
	return base64.StdEncoding.EncodeToString([]byte("not-a-real-certificate"))
}

func openStore(t *testing.T) *certstore.FileStore {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, certstore.Setup(dir, certstore.SetupParams{
		StructureLevel: 1,
		CertFormat:     types.CertFormatPEM,
		Owner:          "pipeline-test",
		Description:    "pipeline integration fixture",
	}))
	store, err := certstore.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func stageFixtures(t *testing.T, repoDir, source, dateID string) {
	t.Helper()
	dir := filepath.Join(repoDir, source, string(types.StateCollected))
	require.NoError(t, os.MkdirAll(dir, 0o755))

	certB64 := selfSignedLeafPEM(t)
	writeGzip(t, filepath.Join(dir, dateID+"_certs.gz"), []string{
		"cert-1," + certB64,
		"cert-2," + certB64,
	})
	writeGzip(t, filepath.Join(dir, dateID+"_hosts.gz"), []string{
		"host-1,cert-1",
		"host-1,cert-2",
	})
}

func TestManagerRunEndToEnd(t *testing.T) {
	repoDir := t.TempDir()
	fixtureDir := t.TempDir()
	source := "RAPID"
	dateID := "20200612"

	stageFixtures(t, fixtureDir, source, dateID)
	// LocalCollector copies only the top level of fixtureDir, renaming
	// nothing; move the dumps out of the COLLECTED-shaped staging area up
	// into fixtureDir so it has something date-prefixed to find.
	require.NoError(t, os.Rename(
		filepath.Join(fixtureDir, source, string(types.StateCollected), dateID+"_certs.gz"),
		filepath.Join(fixtureDir, dateID+"_certs.gz"),
	))
	require.NoError(t, os.Rename(
		filepath.Join(fixtureDir, source, string(types.StateCollected), dateID+"_hosts.gz"),
		filepath.Join(fixtureDir, dateID+"_hosts.gz"),
	))

	date, err := time.Parse("20060102", dateID)
	require.NoError(t, err)

	store := openStore(t)
	mgr := New(Config{
		Source:         source,
		Repository:     repoDir,
		Date:           date,
		CPUCores:       1,
		Collector:      &collect.LocalCollector{Source: source, FixtureDir: fixtureDir},
		Store:          store,
		AnalyseMethods: []string{"native"},
	})

	err = mgr.Run([]types.Stage{types.StageAnalyse, types.StageCollect, types.StageUnify})
	require.NoError(t, err)

	chainDir := filepath.Join(repoDir, source, string(types.StateUnified))
	assert.FileExists(t, filepath.Join(chainDir, dateID+"_chains.gz"))

	analysedDir := filepath.Join(repoDir, source, string(types.StateAnalysed))
	entries, err := os.ReadDir(analysedDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	csvPath := filepath.Join(analysedDir, entries[0].Name())
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "host-1")
}

func TestManagerRunRejectsFilterStage(t *testing.T) {
	mgr := New(Config{Source: "RAPID", Repository: t.TempDir(), Date: time.Now()})
	err := mgr.Run([]types.Stage{types.StageFilter})
	assert.Error(t, err)
}

func TestManagerUnifyStandaloneDiscoversFromDisk(t *testing.T) {
	repoDir := t.TempDir()
	source := "RAPID"
	dateID := "20200612"
	stageFixtures(t, repoDir, source, dateID)

	date, err := time.Parse("20060102", dateID)
	require.NoError(t, err)

	store := openStore(t)
	mgr := New(Config{
		Source:     source,
		Repository: repoDir,
		Date:       date,
		CPUCores:   1,
		Store:      store,
	})

	produced, err := mgr.Unify(nil)
	require.NoError(t, err)
	require.Len(t, produced, 1)
	assert.Equal(t, dateID, produced[0].DateID)
}

func TestManagerCollectPropagatesContextCancellation(t *testing.T) {
	mgr := New(Config{
		Source:     "RAPID",
		Repository: t.TempDir(),
		Date:       time.Now(),
		Collector:  &collect.LocalCollector{Source: "RAPID", FixtureDir: t.TempDir()},
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := mgr.Collect(ctx)
	assert.Error(t, err)
}

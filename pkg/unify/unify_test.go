package unify

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crocs-muni/cevast/pkg/types"
)

func writeGzipLines(t *testing.T, path string, lines []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	gz := gzip.NewWriter(f)
	bw := bufio.NewWriter(gz)
	for _, l := range lines {
		_, err := bw.WriteString(l + "\n")
		require.NoError(t, err)
	}
	require.NoError(t, bw.Flush())
	require.NoError(t, gz.Close())
}

func readGzipLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()
	var lines []string
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if scanner.Text() != "" {
			lines = append(lines, scanner.Text())
		}
	}
	require.NoError(t, scanner.Err())
	return lines
}

type memStore struct {
	certs map[types.CertificateID]types.Certificate
}

func newMemStore() *memStore {
	return &memStore{certs: make(map[types.CertificateID]types.Certificate)}
}

func (m *memStore) Insert(id types.CertificateID, cert types.Certificate) error {
	m.certs[id] = cert
	return nil
}

func (m *memStore) ExistsAll(ids []types.CertificateID) bool {
	for _, id := range ids {
		if _, ok := m.certs[id]; !ok {
			return false
		}
	}
	return true
}

func TestStoreCertsInsertsPEM(t *testing.T) {
	dir := t.TempDir()
	certsPath := filepath.Join(dir, "certs.gz")
	writeGzipLines(t, certsPath, []string{"cert1,QUFBQQ==", "cert2,QkJCQg=="})
	hostsPath := filepath.Join(dir, "hosts.gz")
	writeGzipLines(t, hostsPath, []string{"host1,cert1"})

	u, err := New("rapid", certsPath, hostsPath, filepath.Join(dir, "chains.gz"), "")
	require.NoError(t, err)

	store := newMemStore()
	require.NoError(t, u.StoreCerts(store))

	assert.Len(t, store.certs, 2)
	assert.Contains(t, string(store.certs["cert1"]), "-----BEGIN CERTIFICATE-----")
	assert.Equal(t, 2, u.Log().TotalCerts)
}

func TestStoreChainsGroupsByConsecutiveHost(t *testing.T) {
	dir := t.TempDir()
	hostsPath := filepath.Join(dir, "hosts.gz")
	writeGzipLines(t, hostsPath, []string{
		"host1,cert1",
		"host1,cert2",
		"host2,cert3",
	})
	certsPath := filepath.Join(dir, "certs.gz")
	writeGzipLines(t, certsPath, []string{"cert1,QQ=="})
	chainPath := filepath.Join(dir, "chains.gz")

	u, err := New("rapid", certsPath, hostsPath, chainPath, "")
	require.NoError(t, err)

	store := newMemStore()
	require.NoError(t, u.StoreChains(store))

	lines := readGzipLines(t, chainPath)
	assert.Equal(t, []string{"host1,cert1,cert2", "host2,cert3"}, lines)
	assert.Equal(t, 2, u.Log().TotalHosts)
	assert.Equal(t, 3, u.Log().TotalHostCerts)
	assert.Equal(t, 0, u.Log().BrokenChains, "broken chain tracking disabled without a broken file")
}

func TestStoreChainsSplitsBrokenFromFull(t *testing.T) {
	dir := t.TempDir()
	hostsPath := filepath.Join(dir, "hosts.gz")
	writeGzipLines(t, hostsPath, []string{
		"host1,cert1",
		"host2,missing",
	})
	certsPath := filepath.Join(dir, "certs.gz")
	writeGzipLines(t, certsPath, []string{"cert1,QQ=="})
	chainPath := filepath.Join(dir, "chains.gz")
	brokenPath := filepath.Join(dir, "broken.gz")

	u, err := New("rapid", certsPath, hostsPath, chainPath, brokenPath)
	require.NoError(t, err)

	store := newMemStore()
	require.NoError(t, store.Insert("cert1", types.Certificate("x")))
	require.NoError(t, u.StoreChains(store))

	assert.Equal(t, []string{"host1,cert1"}, readGzipLines(t, chainPath))
	assert.Equal(t, []string{"host2,missing"}, readGzipLines(t, brokenPath))
	assert.Equal(t, 1, u.Log().BrokenChains)
}

func TestSaveLogWritesSortedJSON(t *testing.T) {
	dir := t.TempDir()
	certsPath := filepath.Join(dir, "certs.gz")
	writeGzipLines(t, certsPath, []string{"cert1,QQ=="})
	hostsPath := filepath.Join(dir, "hosts.gz")
	writeGzipLines(t, hostsPath, []string{"host1,cert1"})

	u, err := New("rapid", certsPath, hostsPath, filepath.Join(dir, "chains.gz"), "")
	require.NoError(t, err)
	store := newMemStore()
	require.NoError(t, u.StoreCerts(store))
	require.NoError(t, u.StoreChains(store))

	logPath := filepath.Join(dir, "log.json")
	require.NoError(t, u.SaveLog(logPath))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"broken_chains"`)
	assert.Contains(t, string(data), `"total_certs": 1`)
}

func TestNewRejectsMissingDatasetFiles(t *testing.T) {
	dir := t.TempDir()
	_, err := New("rapid", filepath.Join(dir, "missing-certs.gz"), filepath.Join(dir, "missing-hosts.gz"), "", "")
	assert.Error(t, err)
}

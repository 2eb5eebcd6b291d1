package certstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crocs-muni/cevast/pkg/types"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, Setup(dir, SetupParams{StructureLevel: 2, Owner: "test"}))
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetupRejectsExistingStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Setup(dir, SetupParams{StructureLevel: 2}))
	err := Setup(dir, SetupParams{StructureLevel: 2})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestInsertGetExists(t *testing.T) {
	s := newTestStore(t)
	id := types.CertificateID("1af2b3c4")
	cert := types.Certificate("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----")

	require.NoError(t, s.Insert(id, cert))
	assert.True(t, s.Exists(id))

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, cert, got)
}

func TestGetNotAvailable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(types.CertificateID("deadbeef"))
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestInsertInvalidCert(t *testing.T) {
	s := newTestStore(t)
	err := s.Insert("", types.Certificate("x"))
	assert.ErrorIs(t, err, ErrInvalidCert)

	err = s.Insert("abc", nil)
	assert.ErrorIs(t, err, ErrInvalidCert)
}

func TestCommitPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Setup(dir, SetupParams{StructureLevel: 2}))
	s, err := Open(dir)
	require.NoError(t, err)

	id := types.CertificateID("1af2b3c4")
	cert := types.Certificate("cert-bytes")
	require.NoError(t, s.Insert(id, cert))

	inserted, deleted, err := s.Commit(2)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.Equal(t, 0, deleted)
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	assert.True(t, reopened.Exists(id))
	got, err := reopened.Get(id)
	require.NoError(t, err)
	assert.Equal(t, cert, got)
}

func TestDeleteAfterCommit(t *testing.T) {
	s := newTestStore(t)
	id := types.CertificateID("1af2b3c4")
	require.NoError(t, s.Insert(id, types.Certificate("cert-bytes")))
	_, _, err := s.Commit(1)
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))
	assert.False(t, s.Exists(id), "staged delete reads as absent even before commit")
	_, err = s.Get(id)
	assert.ErrorIs(t, err, ErrNotAvailable, "staged delete reads as absent even before commit")

	inserted, deleted, err := s.Commit(1)
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)
	assert.Equal(t, 1, deleted)
	assert.False(t, s.Exists(id))

	_, err = s.Get(id)
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestDeleteStagedThenReinsertReplacesPersisted(t *testing.T) {
	s := newTestStore(t)
	id := types.CertificateID("1af2b3c4")
	require.NoError(t, s.Insert(id, types.Certificate("first")))
	_, _, err := s.Commit(1)
	require.NoError(t, err)

	require.NoError(t, s.Delete(id))
	require.NoError(t, s.Insert(id, types.Certificate("second")))
	assert.True(t, s.Exists(id), "re-insert after a staged delete is visible again")

	inserted, deleted, err := s.Commit(1)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted, "the new bytes are appended after the delete-phase rewrite")
	assert.Equal(t, 1, deleted, "the old persisted member is removed by the delete-phase rewrite")

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.Certificate("second"), got)
}

func TestDeletePendingInsertDropsImmediately(t *testing.T) {
	s := newTestStore(t)
	id := types.CertificateID("1af2b3c4")
	require.NoError(t, s.Insert(id, types.Certificate("cert-bytes")))
	require.NoError(t, s.Delete(id))
	assert.False(t, s.Exists(id))
}

func TestRollbackDiscardsInserts(t *testing.T) {
	s := newTestStore(t)
	id := types.CertificateID("1af2b3c4")
	require.NoError(t, s.Insert(id, types.Certificate("cert-bytes")))
	require.NoError(t, s.Rollback())
	assert.False(t, s.Exists(id))

	_, err := s.Get(id)
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestDuplicateInsertFirstWriterWins(t *testing.T) {
	s := newTestStore(t)
	id := types.CertificateID("1af2b3c4")
	first := types.Certificate("first-bytes")
	second := types.Certificate("second-bytes")

	require.NoError(t, s.Insert(id, first))
	require.NoError(t, s.Insert(id, second))

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestDuplicateInsertAfterCommitIsDropped(t *testing.T) {
	s := newTestStore(t)
	id := types.CertificateID("1af2b3c4")
	first := types.Certificate("first-bytes")
	require.NoError(t, s.Insert(id, first))
	_, _, err := s.Commit(1)
	require.NoError(t, err)

	require.NoError(t, s.Insert(id, types.Certificate("second-bytes")))
	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestExportCopiesToTargetDir(t *testing.T) {
	s := newTestStore(t)
	id := types.CertificateID("1af2b3c4")
	cert := types.Certificate("cert-bytes")
	require.NoError(t, s.Insert(id, cert))
	_, _, err := s.Commit(1)
	require.NoError(t, err)

	targetDir := t.TempDir()
	path, err := s.Export(id, targetDir, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(targetDir, "1af2b3c4.pem"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(cert), string(data))
}

func TestExportPendingInsertWithoutCopy(t *testing.T) {
	s := newTestStore(t)
	id := types.CertificateID("1af2b3c4")
	cert := types.Certificate("cert-bytes")
	require.NoError(t, s.Insert(id, cert))

	path, err := s.Export(id, t.TempDir(), false)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(cert), string(data))
}

func TestExistsAll(t *testing.T) {
	s := newTestStore(t)
	a := types.CertificateID("1af2b3c4")
	b := types.CertificateID("2bc3d4e5")
	require.NoError(t, s.Insert(a, types.Certificate("a")))
	require.NoError(t, s.Insert(b, types.Certificate("b")))

	assert.True(t, s.ExistsAll([]types.CertificateID{a, b}))
	assert.False(t, s.ExistsAll([]types.CertificateID{a, "missing"}))
}

func TestSetupRejectsNegativeStructureLevel(t *testing.T) {
	err := Setup(t.TempDir(), SetupParams{StructureLevel: -1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStructureLevelZeroIsSingleBlock(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Setup(dir, SetupParams{StructureLevel: 0}))
	s, err := Open(dir)
	require.NoError(t, err)
	defer s.Close()

	a := types.CertificateID("1af2b3c4")
	b := types.CertificateID("ffeeddcc")
	require.NoError(t, s.Insert(a, types.Certificate("cert-a")))
	require.NoError(t, s.Insert(b, types.Certificate("cert-b")))
	_, _, err = s.Commit(1)
	require.NoError(t, err)

	// Level 0's single block archive is named after the storage
	// directory itself and sits alongside it, not inside it.
	_, statErr := os.Stat(dir + ".zip")
	require.NoError(t, statErr, "structure level 0 collapses every certificate into one archive")
	assert.True(t, s.Exists(a))
	assert.True(t, s.Exists(b))
}

func TestCommitMultipleBlocksParallel(t *testing.T) {
	s := newTestStore(t)
	ids := []types.CertificateID{"1af2b3c4", "2bc3d4e5", "3cd4e5f6", "4de5f6a7"}
	for i, id := range ids {
		require.NoError(t, s.Insert(id, types.Certificate([]byte{byte(i)})))
	}

	inserted, _, err := s.Commit(4)
	require.NoError(t, err)
	assert.Equal(t, len(ids), inserted)

	for _, id := range ids {
		assert.True(t, s.Exists(id))
	}
}

package verify

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writePEMCert(t *testing.T, dir, name string, der []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	block := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o644))
	return path
}

func buildChain(t *testing.T, dir string, notBefore, notAfter time.Time) (leafPath, caPath string) {
	t.Helper()
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test CA"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "leaf"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey)
	require.NoError(t, err)

	return writePEMCert(t, dir, "leaf.pem", leafDER), writePEMCert(t, dir, "ca.pem", caDER)
}

func TestNativeVerifyAcceptsTrustedChain(t *testing.T) {
	dir := t.TempDir()
	leaf, ca := buildChain(t, dir, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))

	result := nativeVerify([]string{leaf, ca}, 0)
	assert := require.New(t)
	assert.Equal(OK, result)
}

func TestNativeVerifyRejectsExpiredChainAtReferenceTime(t *testing.T) {
	dir := t.TempDir()
	leaf, ca := buildChain(t, dir, time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour))

	result := nativeVerify([]string{leaf, ca}, time.Now().Unix())
	require.NotEqual(t, OK, result)
}

func TestNativeVerifyUnknownOnMissingFile(t *testing.T) {
	result := nativeVerify([]string{"/no/such/file.pem"}, 0)
	require.Equal(t, Unknown, result)
}

func TestNativeVerifyUnknownOnEmptyChain(t *testing.T) {
	require.Equal(t, Unknown, nativeVerify(nil, 0))
}

package verify

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"time"
)

func init() {
	Register(Registration{
		Name:      "native",
		Available: func() bool { return true },
		New:       func() Verifier { return nativeVerify },
	})
}

// nativeVerify builds trust in-process via crypto/x509, the closest
// Go analogue of an in-process verification library: no external
// process is spawned, so it is always available.
func nativeVerify(chainPaths []string, referenceTime int64) string {
	if len(chainPaths) == 0 {
		return Unknown
	}

	leaf, err := loadCertificate(chainPaths[0])
	if err != nil {
		return Unknown
	}

	intermediates := x509.NewCertPool()
	for _, path := range chainPaths[1:] {
		cert, err := loadCertificate(path)
		if err != nil {
			return Unknown
		}
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Intermediates: intermediates,
		Roots:         intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if referenceTime > 0 {
		opts.CurrentTime = time.Unix(referenceTime, 0)
	}

	if _, err := leaf.Verify(opts); err != nil {
		if code, ok := errorCode(err); ok {
			return code
		}
		return Unknown
	}
	return OK
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, os.ErrInvalid
	}
	return x509.ParseCertificate(block.Bytes)
}

// errorCode maps well known verification failure types to a short
// numeric code, mirroring the spirit of openssl's numeric error codes
// without claiming the same numbering space.
func errorCode(err error) (string, bool) {
	switch err.(type) {
	case x509.CertificateInvalidError:
		return "10", true
	case x509.UnknownAuthorityError:
		return "20", true
	case x509.HostnameError:
		return "30", true
	default:
		return "", false
	}
}

package certutil

import "strings"

const (
	pemHeader = "-----BEGIN CERTIFICATE-----"
	pemFooter = "-----END CERTIFICATE-----"
	pemWidth  = 64
)

// ValidatePEM reports whether cert has the minimal shape of a PEM
// certificate: a BEGIN CERTIFICATE header and an END CERTIFICATE
// footer. It does not parse the certificate.
func ValidatePEM(cert string) bool {
	return strings.HasPrefix(cert, pemHeader+"\n") && strings.HasSuffix(cert, "\n"+pemFooter)
}

// Base64ToPEM converts a raw, unwrapped base64-encoded certificate
// into PEM format, wrapping the body at 64 characters per line.
func Base64ToPEM(cert string) string {
	var b strings.Builder
	b.WriteString(pemHeader)
	b.WriteByte('\n')
	for i := 0; i < len(cert); i += pemWidth {
		end := i + pemWidth
		if end > len(cert) {
			end = len(cert)
		}
		b.WriteString(cert[i:end])
		b.WriteByte('\n')
	}
	b.WriteString(pemFooter)
	return b.String()
}

// MakePEMFilename returns the canonical on-disk filename for the
// certificate identified by certID.
func MakePEMFilename(certID string) string {
	return certID + ".pem"
}

package verify

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"time"
)

const certtoolTimeout = 10 * time.Second

func init() {
	Register(Registration{
		Name:      "gnutls",
		Available: func() bool { _, err := exec.LookPath("certtool"); return err == nil },
		New:       func() Verifier { return certtoolVerify },
	})
}

// certtoolVerify shells out to GnuTLS's "certtool --verify-chain",
// feeding the leaf and any intermediates concatenated on stdin, the
// CLI backend GnuTLS offers in place of OpenSSL's "verify" command.
func certtoolVerify(chainPaths []string, referenceTime int64) string {
	if len(chainPaths) == 0 {
		return Unknown
	}

	var input bytes.Buffer
	for _, path := range chainPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return Unknown
		}
		input.Write(data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), certtoolTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "certtool", "--verify-chain")
	cmd.Stdin = &input
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err != nil {
		return Unknown
	}
	if strings.Contains(out.String(), "Chain verification output: Verified.") {
		return OK
	}
	return Unknown
}

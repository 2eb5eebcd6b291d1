package unify

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/crocs-muni/cevast/pkg/certutil"
	"github.com/crocs-muni/cevast/pkg/log"
	"github.com/crocs-muni/cevast/pkg/metrics"
	"github.com/crocs-muni/cevast/pkg/types"
)

// CertInserter is the subset of certstore.Store the unifier needs to
// persist parsed certificates.
type CertInserter interface {
	Insert(id types.CertificateID, cert types.Certificate) error
}

// ChainChecker is the subset of certstore.ReadOnlyStore the unifier
// needs to classify a chain as full or broken.
type ChainChecker interface {
	ExistsAll(ids []types.CertificateID) bool
}

// Log is the JSON side file written alongside a unification run.
type Log struct {
	BrokenChains   int `json:"broken_chains"`
	TotalCerts     int `json:"total_certs"`
	TotalHostCerts int `json:"total_host_certs"`
	TotalHosts     int `json:"total_hosts"`
}

// Unifier parses a source's certs and hosts dumps for one run.
type Unifier struct {
	CertsDataset    string
	HostsDataset    string
	ChainFile       string
	BrokenChainFile string

	source string
	logger zerolog.Logger
	log    Log
}

// New validates that the two input dataset files exist and returns an
// Unifier ready to parse them. BrokenChainFile may be left empty: every
// chain is then written to ChainFile regardless of completeness and
// the broken-chain counter is left at zero.
func New(source, certsDataset, hostsDataset, chainFile, brokenChainFile string) (*Unifier, error) {
	if _, err := os.Stat(certsDataset); err != nil {
		return nil, fmt.Errorf("certs dataset: %w", err)
	}
	if _, err := os.Stat(hostsDataset); err != nil {
		return nil, fmt.Errorf("hosts dataset: %w", err)
	}
	return &Unifier{
		CertsDataset:    certsDataset,
		HostsDataset:    hostsDataset,
		ChainFile:       chainFile,
		BrokenChainFile: brokenChainFile,
		source:          source,
		logger:          log.WithComponent("unify"),
	}, nil
}

// Log returns the counters accumulated so far.
func (u *Unifier) Log() Log {
	return u.log
}

// StoreCerts streams CertsDataset (lines of "id,base64cert") and
// inserts each certificate, PEM-encoded, into store.
func (u *Unifier) StoreCerts(store CertInserter) error {
	u.logger.Info().Str("dataset", u.CertsDataset).Msg("parsing certificates")
	return u.forEachLine(u.CertsDataset, func(line string) error {
		id, cert, ok := splitPair(line)
		if !ok {
			return fmt.Errorf("malformed cert record: %q", line)
		}
		if err := store.Insert(types.CertificateID(id), types.Certificate(certutil.Base64ToPEM(cert))); err != nil {
			return fmt.Errorf("insert %s: %w", id, err)
		}
		u.log.TotalCerts++
		metrics.UnifyCertsTotal.WithLabelValues(u.source).Inc()
		return nil
	})
}

// StoreChains streams HostsDataset (lines of "host_id,cert_id",
// grouped by consecutive host_id), builds each host's chain and writes
// it to ChainFile. If BrokenChainFile is set, chains missing any
// certificate from store are written there instead.
func (u *Unifier) StoreChains(store ChainChecker) error {
	u.logger.Info().Str("dataset", u.HostsDataset).Msg("building chains")

	full, err := newGzipWriter(u.ChainFile)
	if err != nil {
		return err
	}
	defer full.Close()

	var broken *gzipWriter
	if u.BrokenChainFile != "" {
		broken, err = newGzipWriter(u.BrokenChainFile)
		if err != nil {
			return err
		}
		defer broken.Close()
	}

	write := func(host string, chain []string) error {
		u.log.TotalHosts++
		u.log.TotalHostCerts += len(chain)
		record := types.ChainRecord{HostID: host, Chain: toCertIDs(chain)}
		line := record.String() + "\n"

		complete := broken == nil || store.ExistsAll(record.Chain)
		target := full
		completeness := "full"
		if !complete {
			u.log.BrokenChains++
			target = broken
			completeness = "broken"
		}
		metrics.UnifyChainsTotal.WithLabelValues(u.source, completeness).Inc()
		return target.WriteString(line)
	}

	var currentHost string
	var currentChain []string
	flush := func() error {
		if currentHost == "" && len(currentChain) == 0 {
			return nil
		}
		return write(currentHost, currentChain)
	}

	err = u.forEachLine(u.HostsDataset, func(line string) error {
		host, certID, ok := splitPair(line)
		if !ok {
			return fmt.Errorf("malformed host record: %q", line)
		}
		if currentHost != "" && host != currentHost {
			if err := flush(); err != nil {
				return err
			}
			currentChain = nil
		}
		currentHost = host
		currentChain = append(currentChain, certID)
		return nil
	})
	if err != nil {
		return err
	}
	return flush()
}

// SaveLog writes the accumulated Log as indented JSON to filename.
func (u *Unifier) SaveLog(filename string) error {
	data, err := json.MarshalIndent(u.log, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal unification log: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write unification log: %w", err)
	}
	return nil
}

// ReadChains streams a unified chain file (the format StoreChains
// writes) and invokes visit with each decoded ChainRecord. It is the
// read-side counterpart consumers like the analyser use to walk a
// dataset's chains without re-deriving them from the raw dumps.
func ReadChains(path string, visit func(types.ChainRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip %s: %w", path, err)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		record := types.ChainRecord{HostID: fields[0], Chain: toCertIDs(fields[1:])}
		if err := visit(record); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (u *Unifier) forEachLine(path string, visit func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip %s: %w", path, err)
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := visit(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func splitPair(line string) (first, second string, ok bool) {
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), true
}

func toCertIDs(ids []string) []types.CertificateID {
	out := make([]types.CertificateID, len(ids))
	for i, id := range ids {
		out[i] = types.CertificateID(id)
	}
	return out
}

type gzipWriter struct {
	f  *os.File
	gz *gzip.Writer
	bw *bufio.Writer
}

func newGzipWriter(path string) (*gzipWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	gz := gzip.NewWriter(f)
	return &gzipWriter{f: f, gz: gz, bw: bufio.NewWriter(gz)}, nil
}

func (w *gzipWriter) WriteString(s string) error {
	_, err := w.bw.WriteString(s)
	return err
}

func (w *gzipWriter) Close() error {
	if err := w.bw.Flush(); err != nil {
		w.gz.Close()
		w.f.Close()
		return err
	}
	if err := w.gz.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

package analyse

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/crocs-muni/cevast/pkg/certutil"
	"github.com/crocs-muni/cevast/pkg/log"
	"github.com/crocs-muni/cevast/pkg/metrics"
	"github.com/crocs-muni/cevast/pkg/types"
	"github.com/crocs-muni/cevast/pkg/verify"
)

// Exporter is the subset of certstore.Store the Analyser needs to pull
// a chain's certificates onto disk for the configured verifiers.
type Exporter interface {
	Export(id types.CertificateID, targetDir string, copyIfExists bool) (string, error)
}

// Params configures a single analysis run.
type Params struct {
	Source        string
	OutputCSVPath string
	WorkerCount   int
	Store         Exporter
	ReferenceDate time.Time
	// Methods names verifiers to run, looked up in the verify registry.
	// If empty, every currently available verifier is used.
	Methods []string
	// ExportDir holds exported chain certificates for the run's
	// lifetime. If empty, a unique directory is created and removed by
	// Done.
	ExportDir string
}

type method struct {
	name string
	run  verify.Verifier
}

// Analyser schedules chains for verification and writes results as CSV
// rows, one per host.
type Analyser struct {
	source        string
	store         Exporter
	referenceTime int64
	methods       []method

	exportDir        string
	cleanupExportDir bool
	exportMu         sync.Mutex

	out     *os.File
	writer  *bufio.Writer
	writeMu sync.Mutex

	single bool
	jobs   chan job
	wg     sync.WaitGroup

	logger zerolog.Logger
}

type job struct {
	host  string
	chain []types.CertificateID
}

// New resolves the requested verification methods, opens the output
// CSV and, for an asynchronous run, starts the worker pool.
func New(p Params) (*Analyser, error) {
	methods, err := resolveMethods(p.Methods)
	if err != nil {
		return nil, err
	}

	exportDir := p.ExportDir
	cleanup := false
	if exportDir == "" {
		exportDir = filepath.Join(os.TempDir(), "export-"+uuid.NewString())
		cleanup = true
	}
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	out, err := os.Create(p.OutputCSVPath + ".csv")
	if err != nil {
		return nil, fmt.Errorf("create output csv: %w", err)
	}

	a := &Analyser{
		source:           p.Source,
		store:            p.Store,
		referenceTime:    p.ReferenceDate.Unix(),
		methods:          methods,
		exportDir:        exportDir,
		cleanupExportDir: cleanup,
		out:              out,
		writer:           bufio.NewWriter(out),
		single:           p.WorkerCount <= 0,
		logger:           log.WithComponent("analyse"),
	}

	if err := a.writeHeader(); err != nil {
		out.Close()
		return nil, err
	}

	if !a.single {
		a.jobs = make(chan job, p.WorkerCount*2)
		a.wg.Add(p.WorkerCount)
		for i := 0; i < p.WorkerCount; i++ {
			go a.worker()
		}
	}

	return a, nil
}

func resolveMethods(names []string) ([]method, error) {
	if len(names) == 0 {
		names = verify.Available()
		sort.Strings(names)
	}
	methods := make([]method, 0, len(names))
	for _, name := range names {
		v, ok := verify.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("verifier %q is not available", name)
		}
		methods = append(methods, method{name: name, run: v})
	}
	return methods, nil
}

func (a *Analyser) writeHeader() error {
	names := make([]string, len(a.methods))
	for i, m := range a.methods {
		names[i] = m.name
	}
	_, err := a.writer.WriteString("host," + strings.Join(names, ",") + ",chain\n")
	return err
}

// Schedule queues host's chain for verification. With a synchronous
// Analyser it blocks until the row is written; otherwise it hands the
// work to the pool and returns immediately.
func (a *Analyser) Schedule(host string, chain []types.CertificateID) error {
	if a.single {
		return a.writeRow(a.process(host, chain))
	}
	a.jobs <- job{host: host, chain: chain}
	return nil
}

func (a *Analyser) worker() {
	defer a.wg.Done()
	for j := range a.jobs {
		if err := a.writeRow(a.process(j.host, j.chain)); err != nil {
			a.logger.Error().Err(err).Str("host", j.host).Msg("failed writing analysis row")
		}
	}
}

// process runs the per-chain export-then-verify work for one host and
// returns its formatted CSV row.
func (a *Analyser) process(host string, chain []types.CertificateID) string {
	paths, ok := a.exportChain(host, chain)
	if !ok {
		metrics.AnalyseBrokenChainsTotal.WithLabelValues(a.source).Inc()
		return ""
	}

	results := make([]string, len(a.methods))
	for i, m := range a.methods {
		timer := metrics.NewTimer()
		results[i] = m.run(paths, a.referenceTime)
		timer.ObserveDurationVec(metrics.AnalyseVerificationDuration, m.name)
	}

	chainIDs := make([]string, len(chain))
	for i, id := range chain {
		chainIDs[i] = string(id)
	}
	metrics.AnalyseRowsTotal.WithLabelValues(a.source).Inc()
	return fmt.Sprintf("%s,%s,%s\n", host, strings.Join(results, ","), strings.Join(chainIDs, " -> "))
}

// exportChain guarantees every certificate in chain is present under
// the shared export directory, exporting any that aren't yet there.
// The critical section is locked because concurrent workers may try to
// export the same certificate at once.
func (a *Analyser) exportChain(host string, chain []types.CertificateID) ([]string, bool) {
	a.exportMu.Lock()
	defer a.exportMu.Unlock()

	paths := make([]string, 0, len(chain))
	for _, id := range chain {
		path := filepath.Join(a.exportDir, certutil.MakePEMFilename(string(id)))
		if _, err := os.Stat(path); err != nil {
			exported, expErr := a.store.Export(id, a.exportDir, false)
			if expErr != nil {
				a.logger.Info().Str("host", host).Str("cert", string(id)).Msg("host has broken chain")
				return nil, false
			}
			path = exported
		}
		paths = append(paths, path)
	}
	return paths, true
}

func (a *Analyser) writeRow(row string) error {
	if row == "" {
		return nil
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, err := a.writer.WriteString(row)
	return err
}

// Done closes the pool (if any), flushes and closes the output file,
// and removes the export directory if Analyser created it.
func (a *Analyser) Done() error {
	if !a.single {
		close(a.jobs)
		a.wg.Wait()
	}
	if err := a.writer.Flush(); err != nil {
		a.out.Close()
		return fmt.Errorf("flush output csv: %w", err)
	}
	if err := a.out.Close(); err != nil {
		return fmt.Errorf("close output csv: %w", err)
	}
	if a.cleanupExportDir {
		if err := os.RemoveAll(a.exportDir); err != nil {
			return fmt.Errorf("remove export dir: %w", err)
		}
	}
	return nil
}

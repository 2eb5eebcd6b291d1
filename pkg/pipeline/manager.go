package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/crocs-muni/cevast/pkg/analyse"
	"github.com/crocs-muni/cevast/pkg/certstore"
	"github.com/crocs-muni/cevast/pkg/collect"
	"github.com/crocs-muni/cevast/pkg/dataset"
	"github.com/crocs-muni/cevast/pkg/log"
	"github.com/crocs-muni/cevast/pkg/metrics"
	"github.com/crocs-muni/cevast/pkg/types"
	"github.com/crocs-muni/cevast/pkg/unify"
)

const (
	certsSuffix  = "certs"
	hostsSuffix  = "hosts"
	chainSuffix  = "chains"
	brokenSuffix = "broken_chains"
)

// Config binds one source's collector/store/analysis settings to a
// run over a given (repository, date, ports).
type Config struct {
	Source     string
	Repository string
	Date       time.Time
	Ports      []string
	CPUCores   int

	Collector collect.Collector
	Store     certstore.Store

	AnalyseWorkers int
	AnalyseMethods []string
}

// Manager runs Collect/Unify/Analyse for one source, in any
// combination, and threads artifacts between them.
type Manager struct {
	cfg    Config
	dateID string
	logger zerolog.Logger
}

// New returns a Manager configured per cfg.
func New(cfg Config) *Manager {
	if cfg.CPUCores < 1 {
		cfg.CPUCores = 1
	}
	return &Manager{
		cfg:    cfg,
		dateID: cfg.Date.Format("20060102"),
		logger: log.WithComponent("pipeline"),
	}
}

// Run sorts tasks by their canonical Collect < Filter < Unify <
// Analyse order and executes each, forwarding datasets produced by an
// earlier stage in this same call into the next.
func (m *Manager) Run(tasks []types.Stage) error {
	sorted := append([]types.Stage{}, tasks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var collected, unified []*dataset.Dataset
	haveCollected, haveUnified := false, false

	for _, stage := range sorted {
		switch stage {
		case types.StageCollect:
			ds, err := m.Collect(context.Background())
			if err != nil {
				return err
			}
			collected, haveCollected = ds, true
		case types.StageFilter:
			return fmt.Errorf("stage %s is not implemented by this pipeline", stage)
		case types.StageUnify:
			input := collected
			if !haveCollected {
				input = nil
			}
			ds, err := m.Unify(input)
			if err != nil {
				return err
			}
			unified, haveUnified = ds, true
		case types.StageAnalyse:
			input := unified
			if !haveUnified {
				input = nil
			}
			if err := m.Analyse(input); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown stage %v", stage)
		}
	}
	return nil
}

// Collect runs the configured Collector for every requested port.
func (m *Manager) Collect(ctx context.Context) ([]*dataset.Dataset, error) {
	var result []*dataset.Dataset
	err := m.timeStage(types.StageCollect, func() error {
		ds, err := m.cfg.Collector.Collect(ctx, m.cfg.Repository, m.cfg.Date, m.cfg.Ports)
		if err != nil {
			return fmt.Errorf("collect: %w", err)
		}
		result = ds
		m.logger.Info().Int("datasets", len(ds)).Msg("collect finished")
		return nil
	})
	return result, err
}

// Unify parses each candidate dataset's collected certs/hosts dumps
// into the store and emits a unified chain file. If datasets is nil,
// one candidate per configured port is rediscovered on disk.
func (m *Manager) Unify(datasets []*dataset.Dataset) ([]*dataset.Dataset, error) {
	var produced []*dataset.Dataset
	err := m.timeStage(types.StageUnify, func() error {
		candidates := datasets
		if candidates == nil {
			var err error
			candidates, err = m.candidateDatasets()
			if err != nil {
				return err
			}
		}

		type job struct {
			ds *dataset.Dataset
			u  *unify.Unifier
		}
		var jobs []job
		seen := make(map[dataset.Key]struct{})
		for _, ds := range candidates {
			if _, dup := seen[ds.Key()]; dup {
				continue
			}
			seen[ds.Key()] = struct{}{}

			certsFile, ok, err := ds.FullPath(types.StateCollected, certsSuffix, true)
			if err != nil || !ok {
				continue
			}
			hostsFile, ok, err := ds.FullPath(types.StateCollected, hostsSuffix, true)
			if err != nil || !ok {
				continue
			}
			chainFile, _, err := ds.FullPath(types.StateUnified, chainSuffix, false)
			if err != nil {
				return err
			}
			brokenFile, _, err := ds.FullPath(types.StateUnified, brokenSuffix, false)
			if err != nil {
				return err
			}
			if _, err := ds.Path(types.StateUnified, true); err != nil {
				return err
			}
			u, err := unify.New(m.cfg.Source, certsFile, hostsFile, chainFile, brokenFile)
			if err != nil {
				return err
			}
			jobs = append(jobs, job{ds: ds, u: u})
		}

		for _, j := range jobs {
			if err := j.u.StoreCerts(m.cfg.Store); err != nil {
				m.logger.Error().Err(err).Msg("error parsing certs, rolling back")
				_ = m.cfg.Store.Rollback()
				return fmt.Errorf("unify certs: %w", err)
			}
		}

		for _, j := range jobs {
			if err := j.u.StoreChains(m.cfg.Store); err != nil {
				m.logger.Error().Err(err).Msg("error parsing chains, committing partial work")
				_, _, _ = m.cfg.Store.Commit(m.cfg.CPUCores)
				return fmt.Errorf("unify chains: %w", err)
			}
			logPath := strings.TrimSuffix(j.u.ChainFile, filepath.Ext(j.u.ChainFile)) + ".log"
			if err := j.u.SaveLog(logPath); err != nil {
				m.logger.Warn().Err(err).Msg("failed writing unification log")
			}
			produced = append(produced, j.ds)
		}

		if _, _, err := m.cfg.Store.Commit(m.cfg.CPUCores); err != nil {
			return fmt.Errorf("commit store: %w", err)
		}
		for _, j := range jobs {
			if err := j.ds.Delete(types.StateCollected); err != nil {
				m.logger.Warn().Err(err).Msg("failed cleaning up collected dataset")
			}
		}
		return nil
	})
	return produced, err
}

// Analyse drives the configured verifiers over each dataset's full
// chain file and writes a CSV into the dataset's ANALYSED directory. If datasets is nil,
// candidates are rediscovered on disk.
func (m *Manager) Analyse(datasets []*dataset.Dataset) error {
	return m.timeStage(types.StageAnalyse, func() error {
		candidates := datasets
		if candidates == nil {
			var err error
			candidates, err = m.candidateDatasets()
			if err != nil {
				return err
			}
		}

		for _, ds := range candidates {
			chainFile, ok, err := ds.FullPath(types.StateUnified, chainSuffix, true)
			if err != nil || !ok {
				continue
			}
			dir, err := ds.Path(types.StateAnalysed, true)
			if err != nil {
				return err
			}
			outputBase := filepath.Join(dir, ds.DateID)
			if ds.Port != "" {
				outputBase += "_" + ds.Port
			}
			outputBase += "_analysis"

			a, err := analyse.New(analyse.Params{
				Source:        m.cfg.Source,
				OutputCSVPath: outputBase,
				WorkerCount:   m.cfg.AnalyseWorkers,
				Store:         m.cfg.Store,
				ReferenceDate: m.cfg.Date,
				Methods:       m.cfg.AnalyseMethods,
			})
			if err != nil {
				return fmt.Errorf("analyse %s: %w", ds.DateID, err)
			}

			scheduleErr := unify.ReadChains(chainFile, func(rec types.ChainRecord) error {
				return a.Schedule(rec.HostID, rec.Chain)
			})
			if doneErr := a.Done(); doneErr != nil && scheduleErr == nil {
				scheduleErr = doneErr
			}
			if scheduleErr != nil {
				return fmt.Errorf("analyse %s: %w", ds.DateID, scheduleErr)
			}
		}
		return nil
	})
}

func (m *Manager) candidateDatasets() ([]*dataset.Dataset, error) {
	ports := m.cfg.Ports
	if len(ports) == 0 {
		ports = []string{""}
	}
	var out []*dataset.Dataset
	for _, port := range ports {
		ds, err := dataset.New(m.cfg.Repository, m.cfg.Source, m.dateID, port, "gz")
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

func (m *Manager) timeStage(stage types.Stage, fn func() error) error {
	timer := metrics.NewTimer()
	err := fn()
	timer.ObserveDurationVec(metrics.PipelineStageDuration, m.cfg.Source, stage.String())
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	metrics.PipelineStagesTotal.WithLabelValues(m.cfg.Source, stage.String(), outcome).Inc()
	return err
}

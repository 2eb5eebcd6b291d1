package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"

	"github.com/crocs-muni/cevast/pkg/certstore"
	"github.com/crocs-muni/cevast/pkg/collect"
	"github.com/crocs-muni/cevast/pkg/log"
	"github.com/crocs-muni/cevast/pkg/metrics"
	"github.com/crocs-muni/cevast/pkg/pipeline"
	"github.com/crocs-muni/cevast/pkg/types"
	_ "github.com/crocs-muni/cevast/pkg/verify"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cevast",
	Short: "Cevast - certificate archive store and ingest pipeline",
	Long: `Cevast manages content-addressed certificate archives and the
pipeline that turns raw scan dumps into unified certificate chains
and verification results.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"cevast version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(metricsCmd)
}

// ---- store ----

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage a certificate store",
}

var storeSetupCmd = &cobra.Command{
	Use:   "setup PATH",
	Short: "Create a new certificate store at PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetInt("structure-level")
		owner, _ := cmd.Flags().GetString("owner")
		description, _ := cmd.Flags().GetString("description")
		return certstore.Setup(args[0], certstore.SetupParams{
			StructureLevel: level,
			CertFormat:     types.CertFormatPEM,
			Owner:          owner,
			Description:    description,
		})
	},
}

var storeInsertCmd = &cobra.Command{
	Use:   "insert ID PEM_FILE",
	Short: "Insert a certificate identified by ID and commit it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		storagePath, _ := cmd.Flags().GetString("storage")
		cores, _ := cmd.Flags().GetInt("cpu")

		store, err := certstore.Open(storagePath)
		if err != nil {
			return err
		}
		defer store.Close()

		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[1], err)
		}
		if err := store.Insert(types.CertificateID(args[0]), types.Certificate(data)); err != nil {
			return err
		}
		inserted, deleted, err := store.Commit(cores)
		if err != nil {
			return err
		}
		fmt.Printf("inserted %d, deleted %d\n", inserted, deleted)
		return nil
	},
}

var storeBulkInsertCmd = &cobra.Command{
	Use:   "bulk-insert DIR",
	Short: "Insert every *.pem file in DIR, showing progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storagePath, _ := cmd.Flags().GetString("storage")
		cores, _ := cmd.Flags().GetInt("cpu")

		entries, err := os.ReadDir(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}
		var pemFiles []os.DirEntry
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".pem") {
				pemFiles = append(pemFiles, e)
			}
		}

		store, err := certstore.Open(storagePath)
		if err != nil {
			return err
		}
		defer store.Close()

		bar := pb.StartNew(len(pemFiles))
		defer bar.Finish()
		for _, e := range pemFiles {
			id := strings.TrimSuffix(e.Name(), ".pem")
			data, err := os.ReadFile(filepath.Join(args[0], e.Name()))
			if err != nil {
				return fmt.Errorf("read %s: %w", e.Name(), err)
			}
			if err := store.Insert(types.CertificateID(id), types.Certificate(data)); err != nil {
				return fmt.Errorf("insert %s: %w", id, err)
			}
			bar.Increment()
		}

		inserted, deleted, err := store.Commit(cores)
		if err != nil {
			return err
		}
		fmt.Printf("inserted %d, deleted %d\n", inserted, deleted)
		return nil
	},
}

var storeGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Print a certificate's PEM bytes to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storagePath, _ := cmd.Flags().GetString("storage")
		store, err := certstore.Open(storagePath)
		if err != nil {
			return err
		}
		defer store.Close()

		cert, err := store.Get(types.CertificateID(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(string(cert))
		return nil
	},
}

var storeExportCmd = &cobra.Command{
	Use:   "export ID TARGET_DIR",
	Short: "Export a certificate's file into TARGET_DIR",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		storagePath, _ := cmd.Flags().GetString("storage")
		copyIfExists, _ := cmd.Flags().GetBool("copy-if-exists")

		store, err := certstore.Open(storagePath)
		if err != nil {
			return err
		}
		defer store.Close()

		path, err := store.Export(types.CertificateID(args[0]), args[1], copyIfExists)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

var storeExistsCmd = &cobra.Command{
	Use:   "exists ID [ID...]",
	Short: "Check whether every given ID exists in the store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		storagePath, _ := cmd.Flags().GetString("storage")
		store, err := certstore.Open(storagePath)
		if err != nil {
			return err
		}
		defer store.Close()

		ids := make([]types.CertificateID, len(args))
		for i, a := range args {
			ids[i] = types.CertificateID(a)
		}
		if store.ExistsAll(ids) {
			fmt.Println("all present")
			return nil
		}
		return fmt.Errorf("one or more certificates are missing")
	},
}

var storeCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Commit the store's pending inserts and deletes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		storagePath, _ := cmd.Flags().GetString("storage")
		cores, _ := cmd.Flags().GetInt("cpu")

		store, err := certstore.Open(storagePath)
		if err != nil {
			return err
		}
		defer store.Close()

		inserted, deleted, err := store.Commit(cores)
		if err != nil {
			return err
		}
		fmt.Printf("inserted %d, deleted %d\n", inserted, deleted)
		return nil
	},
}

var storeRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Discard the store's pending inserts and deletes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		storagePath, _ := cmd.Flags().GetString("storage")
		store, err := certstore.Open(storagePath)
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Rollback()
	},
}

func init() {
	storeCmd.AddCommand(storeSetupCmd)
	storeCmd.AddCommand(storeInsertCmd)
	storeCmd.AddCommand(storeBulkInsertCmd)
	storeCmd.AddCommand(storeGetCmd)
	storeCmd.AddCommand(storeExportCmd)
	storeCmd.AddCommand(storeExistsCmd)
	storeCmd.AddCommand(storeCommitCmd)
	storeCmd.AddCommand(storeRollbackCmd)

	storeSetupCmd.Flags().Int("structure-level", 2, "Directory nesting depth for the block layout")
	storeSetupCmd.Flags().String("owner", "", "Store owner recorded in its metadata")
	storeSetupCmd.Flags().String("description", "", "Free form store description")

	for _, c := range []*cobra.Command{storeInsertCmd, storeBulkInsertCmd, storeGetCmd, storeExportCmd, storeExistsCmd, storeCommitCmd, storeRollbackCmd} {
		c.Flags().String("storage", "./store", "Path to the certificate store")
	}
	storeInsertCmd.Flags().Int("cpu", 1, "CPU cores to use when compacting archive blocks on commit")
	storeBulkInsertCmd.Flags().Int("cpu", 1, "CPU cores to use when compacting archive blocks on commit")
	storeCommitCmd.Flags().Int("cpu", 1, "CPU cores to use when compacting archive blocks on commit")
	storeExportCmd.Flags().Bool("copy-if-exists", false, "Copy even if the certificate is still pending in the open transaction")
}

// ---- pipeline ----

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run ingest pipeline stages over a source's scan data",
}

func pipelineManagerFromFlags(cmd *cobra.Command) (*pipeline.Manager, error) {
	storagePath, _ := cmd.Flags().GetString("storage")
	repository, _ := cmd.Flags().GetString("repository")
	source, _ := cmd.Flags().GetString("source")
	dateStr, _ := cmd.Flags().GetString("date")
	ports, _ := cmd.Flags().GetStringSlice("ports")
	cores, _ := cmd.Flags().GetInt("cpu")
	fixtureDir, _ := cmd.Flags().GetString("fixture-dir")
	workers, _ := cmd.Flags().GetInt("analyse-workers")
	methods, _ := cmd.Flags().GetStringSlice("methods")

	date, err := time.Parse("20060102", dateStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --date %q, want YYYYMMDD: %w", dateStr, err)
	}

	store, err := certstore.Open(storagePath)
	if err != nil {
		return nil, err
	}

	return pipeline.New(pipeline.Config{
		Source:         source,
		Repository:     repository,
		Date:           date,
		Ports:          ports,
		CPUCores:       cores,
		Collector:      &collect.LocalCollector{Source: source, FixtureDir: fixtureDir},
		Store:          store,
		AnalyseWorkers: workers,
		AnalyseMethods: methods,
	}), nil
}

var pipelineCollectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect a source's raw dumps for a given date",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := pipelineManagerFromFlags(cmd)
		if err != nil {
			return err
		}
		datasets, err := mgr.Collect(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("collected %d dataset(s)\n", len(datasets))
		return nil
	},
}

var pipelineUnifyCmd = &cobra.Command{
	Use:   "unify",
	Short: "Unify a source's collected dumps into certificate chains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := pipelineManagerFromFlags(cmd)
		if err != nil {
			return err
		}
		datasets, err := mgr.Unify(nil)
		if err != nil {
			return err
		}
		fmt.Printf("unified %d dataset(s)\n", len(datasets))
		return nil
	},
}

var pipelineAnalyseCmd = &cobra.Command{
	Use:   "analyse",
	Short: "Run configured verifiers over a source's unified chains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := pipelineManagerFromFlags(cmd)
		if err != nil {
			return err
		}
		return mgr.Analyse(nil)
	},
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run STAGE [STAGE...]",
	Short: "Run one or more stages in canonical order (collect, unify, analyse)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := pipelineManagerFromFlags(cmd)
		if err != nil {
			return err
		}
		stages, err := parseStages(args)
		if err != nil {
			return err
		}
		return mgr.Run(stages)
	},
}

func parseStages(names []string) ([]types.Stage, error) {
	stages := make([]types.Stage, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(name) {
		case "collect":
			stages = append(stages, types.StageCollect)
		case "filter":
			stages = append(stages, types.StageFilter)
		case "unify":
			stages = append(stages, types.StageUnify)
		case "analyse", "analyze":
			stages = append(stages, types.StageAnalyse)
		default:
			return nil, fmt.Errorf("unknown stage %q", name)
		}
	}
	return stages, nil
}

func init() {
	pipelineCmd.AddCommand(pipelineCollectCmd)
	pipelineCmd.AddCommand(pipelineUnifyCmd)
	pipelineCmd.AddCommand(pipelineAnalyseCmd)
	pipelineCmd.AddCommand(pipelineRunCmd)

	for _, c := range []*cobra.Command{pipelineCollectCmd, pipelineUnifyCmd, pipelineAnalyseCmd, pipelineRunCmd} {
		c.Flags().String("storage", "./store", "Path to the certificate store")
		c.Flags().String("repository", "./repository", "Path to the dataset repository")
		c.Flags().String("source", "RAPID", "Dataset source name")
		c.Flags().String("date", time.Now().Format("20060102"), "Scan date, YYYYMMDD")
		c.Flags().StringSlice("ports", nil, "Restrict to these ports (default: every port offered)")
		c.Flags().Int("cpu", 1, "CPU cores to use when compacting archive blocks on commit")
		c.Flags().String("fixture-dir", "./fixtures", "Directory of pre-staged dumps the local collector reads from")
		c.Flags().Int("analyse-workers", 0, "Worker goroutines for the analyse stage (0 runs synchronously)")
		c.Flags().StringSlice("methods", nil, "Verification methods to run (default: every available backend)")
	}
}

// ---- metrics ----

var metricsCmd = &cobra.Command{
	Use:   "metrics-server ADDR",
	Short: "Serve Prometheus metrics on ADDR until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveMetrics(args[0])
	},
}

func serveMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.WithComponent("cli").Info().Str("addr", addr).Msg("serving metrics")
	return http.ListenAndServe(addr, mux)
}

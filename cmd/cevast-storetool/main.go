package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/crocs-muni/cevast/pkg/certstore"
)

var (
	storagePath = flag.String("storage", "./store", "Certificate store directory")
	dryRun      = flag.Bool("dry-run", false, "Report what would change without rewriting the cache")
	backupPath  = flag.String("backup", "", "Path to back up the existence cache before rebuilding (default: <storage>/.cevast-cache.bbolt.backup)")
	skipBackup  = flag.Bool("no-backup", false, "Skip backing up the existing cache file")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Cevast Store Tool - existence cache verification/rebuild")
	log.Println("=========================================================")

	log.Printf("Store: %s", *storagePath)
	log.Printf("Dry run: %v", *dryRun)

	cachePath := filepath.Join(*storagePath, ".cevast-cache.bbolt")
	if !*dryRun && !*skipBackup {
		if _, err := os.Stat(cachePath); err == nil {
			backupFile := *backupPath
			if backupFile == "" {
				backupFile = cachePath + ".backup"
			}
			log.Printf("Creating backup: %s", backupFile)
			if err := copyFile(cachePath, backupFile); err != nil {
				log.Fatalf("Failed to create backup: %v", err)
			}
			log.Println("backup created successfully")
		}
	}

	start := time.Now()
	report, err := certstore.RebuildCache(*storagePath, *dryRun)
	if err != nil {
		log.Fatalf("Rebuild failed: %v", err)
	}

	fmt.Printf("\narchive members found: %d\n", report.ArchiveMembers)
	fmt.Printf("certificate ids in rebuilt cache: %d\n", report.CachedIDs)
	fmt.Printf("stale entries in the old cache: %d\n", report.StaleEntries)
	fmt.Printf("elapsed: %s\n", time.Since(start).Round(time.Millisecond))

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to rewrite the cache.")
		return
	}
	log.Println("\ncache rebuilt successfully")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

package collect

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/crocs-muni/cevast/pkg/dataset"
	"github.com/crocs-muni/cevast/pkg/types"
)

// Collector fetches one source's dataset for date, restricted to
// ports (or every port it offers, if ports is empty), and returns the
// resulting Datasets already placed at repository/<source>/COLLECTED.
type Collector interface {
	Collect(ctx context.Context, repository string, date time.Time, ports []string) ([]*dataset.Dataset, error)
}

// LocalCollector is a Collector test double: it copies pre-staged
// fixture files from FixtureDir whose name starts with the requested
// date into the canonical COLLECTED location, standing in for a real
// remote-archive HTTP client.
type LocalCollector struct {
	Source     string
	FixtureDir string
}

// Collect implements Collector.
func (c *LocalCollector) Collect(ctx context.Context, repository string, date time.Time, ports []string) ([]*dataset.Dataset, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entries, err := os.ReadDir(c.FixtureDir)
	if err != nil {
		return nil, fmt.Errorf("read fixture dir: %w", err)
	}

	dateID := date.Format("20060102")
	var results []*dataset.Dataset
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), dateID) {
			continue
		}
		if len(ports) > 0 && !matchesAnyPort(e.Name(), ports) {
			continue
		}

		dir := filepath.Join(repository, c.Source, string(types.StateCollected))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create collected dir: %w", err)
		}
		dst := filepath.Join(dir, e.Name())
		if err := copyFile(filepath.Join(c.FixtureDir, e.Name()), dst); err != nil {
			return nil, fmt.Errorf("collect %s: %w", e.Name(), err)
		}

		ds, ok := dataset.FromFullPath(repository, dst)
		if !ok {
			continue
		}
		results = append(results, ds)
	}
	return results, nil
}

func matchesAnyPort(name string, ports []string) bool {
	for _, p := range ports {
		if strings.Contains(name, "_"+p) {
			return true
		}
	}
	return false
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

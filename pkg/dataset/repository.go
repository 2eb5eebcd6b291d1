package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crocs-muni/cevast/pkg/types"
)

// Repository walks a directory tree laid out as
// <root>/<source>/<state>/<filename>, the same tree every Dataset in
// it is rooted at.
type Repository struct {
	Root string
}

// NewRepository returns a Repository rooted at root. root must
// already exist.
func NewRepository(root string) (*Repository, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: repository root %q does not exist", ErrInvalidDataset, root)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	return &Repository{Root: abs}, nil
}

func (r *Repository) sources() ([]string, error) {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Get lists filenames under source/state whose basename starts with
// idPrefix (or all files, if idPrefix is empty).
func (r *Repository) Get(source string, state types.DatasetState, idPrefix string) ([]string, error) {
	dir := filepath.Join(r.Root, source, string(state))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idPrefix == "" || strings.HasPrefix(e.Name(), idPrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Dumps returns a nested {source: {state: filenames}} snapshot of the
// repository, optionally restricted to a single source, a single
// state, and/or a filename id prefix. An empty filter matches
// everything along that axis.
func (r *Repository) Dumps(sourceFilter string, stateFilter types.DatasetState, idPrefix string) (map[string]map[types.DatasetState][]string, error) {
	sources := []string{sourceFilter}
	if sourceFilter == "" {
		var err error
		sources, err = r.sources()
		if err != nil {
			return nil, err
		}
	}

	states := []types.DatasetState{stateFilter}
	if stateFilter == "" {
		states = nil
		for s := range validStates {
			states = append(states, s)
		}
	}

	out := make(map[string]map[types.DatasetState][]string)
	for _, source := range sources {
		for _, state := range states {
			names, err := r.Get(source, state, idPrefix)
			if err != nil {
				return nil, err
			}
			if len(names) == 0 {
				continue
			}
			if out[source] == nil {
				out[source] = make(map[types.DatasetState][]string)
			}
			out[source][state] = names
		}
	}
	return out, nil
}

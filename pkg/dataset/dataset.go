package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/crocs-muni/cevast/pkg/types"
)

var dateIDPattern = regexp.MustCompile(`^\d{8}$`)
var portPattern = regexp.MustCompile(`^\d*$`)

// filenamePattern decomposes the basename of a canonical dataset path:
// an 8 digit date, an optional numeric port segment, an optional free
// form suffix, and a mandatory extension.
var filenamePattern = regexp.MustCompile(`^(\d{8})(?:_(\d+))?(?:_([^.]+))?\.([^.]+)$`)

var validStates = map[types.DatasetState]struct{}{
	types.StateCollected: {},
	types.StateFiltered:  {},
	types.StateUnified:   {},
	types.StateAnalysed:  {},
}

// Key identifies a Dataset for equality and hashing purposes. Two
// Datasets referring to the same source, date and port are considered
// the same logical artifact regardless of suffix, extension or the
// stage they currently sit in.
type Key struct {
	Source string
	DateID string
	Port   string
}

// Dataset is one logical ingest artifact: a source's scan for a given
// date and (optionally) port, addressable under repository in any of
// the four pipeline states.
type Dataset struct {
	Repository string
	Source     string
	DateID     string
	Port       string
	Extension  string
}

// New validates its arguments and returns a Dataset rooted at
// repository. repository must already exist; dateID must be exactly 8
// digits; port, if non-empty, must be all digits.
func New(repository, source, dateID, port, extension string) (*Dataset, error) {
	info, err := os.Stat(repository)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: repository %q does not exist", ErrInvalidDataset, repository)
	}
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", ErrInvalidDataset)
	}
	if !dateIDPattern.MatchString(dateID) {
		return nil, fmt.Errorf("%w: date_id %q must be 8 digits", ErrInvalidDataset, dateID)
	}
	if !portPattern.MatchString(port) {
		return nil, fmt.Errorf("%w: port %q must be numeric", ErrInvalidDataset, port)
	}
	abs, err := filepath.Abs(repository)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	return &Dataset{Repository: abs, Source: source, DateID: dateID, Port: port, Extension: extension}, nil
}

// Key returns the (source, date_id, port) tuple used for equality and
// map lookups.
func (d *Dataset) Key() Key {
	return Key{Source: d.Source, DateID: d.DateID, Port: d.Port}
}

// Equal reports whether d and other address the same logical dataset.
func (d *Dataset) Equal(other *Dataset) bool {
	if other == nil {
		return false
	}
	return d.Key() == other.Key()
}

func (d *Dataset) String() string {
	if d.Port != "" {
		return fmt.Sprintf("%s/%s_%s", d.Source, d.DateID, d.Port)
	}
	return fmt.Sprintf("%s/%s", d.Source, d.DateID)
}

// Path returns the directory holding d's files in the given state. If
// physically is true, the directory is created on demand.
func (d *Dataset) Path(state types.DatasetState, physically bool) (string, error) {
	if _, ok := validStates[state]; !ok {
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidDataset, state)
	}
	dir := filepath.Join(d.Repository, d.Source, string(state))
	if physically {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidDataset, err)
		}
	}
	return dir, nil
}

func (d *Dataset) baseName(suffix string) string {
	var b strings.Builder
	b.WriteString(d.DateID)
	if d.Port != "" {
		b.WriteByte('_')
		b.WriteString(d.Port)
	}
	if suffix != "" {
		b.WriteByte('_')
		b.WriteString(suffix)
	}
	return b.String()
}

// FullPath returns the canonical path of d's file with suffix in
// state. If checkIfExists is true and the file is not present on
// disk, ok is false and path is empty.
func (d *Dataset) FullPath(state types.DatasetState, suffix string, checkIfExists bool) (path string, ok bool, err error) {
	dir, err := d.Path(state, false)
	if err != nil {
		return "", false, err
	}
	full := filepath.Join(dir, d.baseName(suffix)+"."+d.Extension)
	if checkIfExists {
		if _, statErr := os.Stat(full); statErr != nil {
			return "", false, nil
		}
	}
	return full, true, nil
}

// FromFullPath parses path, which must live under repository as
// <source>/<state>/<filename>, back into a Dataset. It returns false
// when path does not satisfy the canonical grammar.
func FromFullPath(repository, path string) (*Dataset, bool) {
	repoAbs, err := filepath.Abs(repository)
	if err != nil {
		return nil, false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return nil, false
	}
	rel, err := filepath.Rel(repoAbs, pathAbs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return nil, false
	}
	source, stateStr, filename := parts[0], parts[1], parts[2]
	if source == "" {
		return nil, false
	}
	if _, ok := validStates[types.DatasetState(stateStr)]; !ok {
		return nil, false
	}
	match := filenamePattern.FindStringSubmatch(filename)
	if match == nil {
		return nil, false
	}
	return &Dataset{
		Repository: repoAbs,
		Source:     source,
		DateID:     match[1],
		Port:       match[2],
		Extension:  match[4],
	}, true
}

func matchesPrefix(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	if len(name) == len(prefix) {
		return true
	}
	next := name[len(prefix)]
	return next == '_' || next == '.'
}

// Get lists the filenames in state whose basename matches d's
// date_id/port and, if given, suffix. Filenames are returned in the
// order the filesystem reports them.
func (d *Dataset) Get(state types.DatasetState, suffix string) ([]string, error) {
	dir, err := d.Path(state, false)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	prefix := d.baseName(suffix)
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if matchesPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Exists reports whether d has at least one file in state.
func (d *Dataset) Exists(state types.DatasetState) bool {
	names, err := d.Get(state, "")
	return err == nil && len(names) > 0
}

// ExistsAny reports whether d has a file in any pipeline state.
func (d *Dataset) ExistsAny() bool {
	for state := range validStates {
		if d.Exists(state) {
			return true
		}
	}
	return false
}

// Delete removes every file in state matching d's date_id/port. If
// the state directory becomes empty, it is removed too.
func (d *Dataset) Delete(state types.DatasetState) error {
	dir, err := d.Path(state, false)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	prefix := d.baseName("")
	remaining := 0
	for _, e := range entries {
		if e.IsDir() {
			remaining++
			continue
		}
		if matchesPrefix(e.Name(), prefix) {
			if rmErr := os.Remove(filepath.Join(dir, e.Name())); rmErr != nil {
				return fmt.Errorf("%w: %v", ErrInvalidDataset, rmErr)
			}
			continue
		}
		remaining++
	}
	if remaining == 0 {
		_ = os.Remove(dir)
	}
	return nil
}

// Purge removes the entire <repository>/<source> subtree, across all
// states.
func (d *Dataset) Purge() error {
	dir := filepath.Join(d.Repository, d.Source)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	return nil
}

// Move relocates sourcePath into d's canonical directory for state. If
// usePrefix is true the destination basename is
// <date_id>[_<port>]_<original name>; otherwise the original name is
// kept unchanged.
func (d *Dataset) Move(state types.DatasetState, sourcePath string, usePrefix bool) error {
	dir, err := d.Path(state, true)
	if err != nil {
		return err
	}
	base := filepath.Base(sourcePath)
	name := base
	if usePrefix {
		name = d.baseName("") + "_" + base
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(sourcePath, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDataset, err)
	}
	return nil
}

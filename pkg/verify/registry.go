package verify

import "sync"

// OK and Unknown are the two verifier result sentinels shared by every
// backend: OK means the chain validated, Unknown means the backend ran
// but its failure mode could not be classified into a short code.
const (
	OK      = "0"
	Unknown = "XX"
)

// Verifier checks one certificate chain, given as a list of PEM file
// paths (leaf first), against a historical reference time expressed
// as Unix seconds, and returns a short opaque result code.
type Verifier func(chainPaths []string, referenceTime int64) string

// Registration is a feature-gated verifier constructor: Available
// reports whether the backend's tooling is present on this host, and
// New builds the Verifier only once that is known to be true.
type Registration struct {
	Name      string
	Available func() bool
	New       func() Verifier
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Registration{}
)

// Register adds r to the registry, keyed by the lowercase form of its
// Name. Registering the same name twice overwrites the earlier entry.
func Register(r Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[lower(r.Name)] = r
}

// Lookup returns the Verifier registered under name, building it with
// New. ok is false if no registration exists under that name or its
// backend reports unavailable.
func Lookup(name string) (v Verifier, ok bool) {
	registryMu.RLock()
	r, found := registry[lower(name)]
	registryMu.RUnlock()
	if !found || !r.Available() {
		return nil, false
	}
	return r.New(), true
}

// Available lists the names of every registered backend whose
// Available probe currently succeeds.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var names []string
	for name, r := range registry {
		if r.Available() {
			names = append(names, name)
		}
	}
	return names
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

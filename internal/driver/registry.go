package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// registry holds all registered source drivers.
var (
	registryMu sync.RWMutex
	drivers    = make(map[string]Driver)
)

// Register adds a driver to the registry. Driver packages call it from init().
// It panics on a duplicate name or alias.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := d.Name()
	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("driver %q already registered", name))
	}

	drivers[name] = d
	for _, alias := range d.Aliases() {
		if _, exists := drivers[alias]; exists {
			panic(fmt.Sprintf("driver alias %q already registered", alias))
		}
		drivers[alias] = d
	}
}

// Get looks up a driver by name or alias, ignoring case.
func Get(nameOrAlias string) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, exists := drivers[strings.ToLower(nameOrAlias)]
	if !exists {
		return nil, fmt.Errorf("unknown source type %q (available: %v)", nameOrAlias, Available())
	}
	return d, nil
}

// Canonicalize returns the primary name for nameOrAlias ("sqlserver" becomes
// "mssql"), or the input unchanged when nothing matches.
func Canonicalize(nameOrAlias string) string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, exists := drivers[strings.ToLower(nameOrAlias)]
	if !exists {
		return nameOrAlias
	}
	return d.Name()
}

// Available returns the sorted primary names of all registered drivers.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool)
	for _, d := range drivers {
		seen[d.Name()] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether nameOrAlias resolves to a driver.
func IsRegistered(nameOrAlias string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, exists := drivers[strings.ToLower(nameOrAlias)]
	return exists
}

// NewSource resolves typ and creates an unopened Source from it.
func NewSource(typ string, opts Options) (Source, error) {
	d, err := Get(typ)
	if err != nil {
		return nil, err
	}
	return d.NewSource(opts)
}

// Package memory keeps archived pages in process for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/archive"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

// Archive stores page bodies keyed by object path and returns memory:// URIs.
type Archive struct {
	prefix string
	mu     sync.RWMutex
	data   map[string][]byte
}

// New creates an empty archive.
func New(prefix string) *Archive {
	return &Archive{prefix: prefix, data: make(map[string][]byte)}
}

// PutPage stores a copy of data.
func (a *Archive) PutPage(_ context.Context, ref etl.PageRef, data []byte) (string, error) {
	path, err := archive.ObjectPath(a.prefix, ref)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[path] = append([]byte(nil), data...)
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns the stored body for path.
func (a *Archive) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, ok := a.data[path]
	return append([]byte(nil), b...), ok
}

// Paths lists stored object paths in sorted order.
func (a *Archive) Paths() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.data))
	for p := range a.data {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

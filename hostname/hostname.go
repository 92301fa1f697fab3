// Package hostname caches the local machine's hostname for embedding in
// lock files.
package hostname

import (
	"os"
	"sync"
)

var (
	once  sync.Once
	value string
)

// Get returns the local hostname, falling back to "unknown" if it cannot be
// determined.
func Get() string {
	once.Do(func() {
		h, err := os.Hostname()
		if err != nil || h == "" {
			value = "unknown"
			return
		}
		value = h
	})
	return value
}

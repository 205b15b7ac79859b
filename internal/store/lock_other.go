//go:build !unix && !windows

package store

import "sync"

var fileLocks sync.Map

// lockFile serializes writers within this process only; the platform has
// no advisory file locks.
func lockFile(path string) (func(), error) {
	v, _ := fileLocks.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock, nil
}

// File: internal/envlock/envlock.go
// Brief: Per-environment advisory lock around one pipeline invocation.

// Package envlock serializes orchestrator runs per environment. Two
// simultaneous deploys to one environment would corrupt the confirmation
// protocol, so the CLI takes this lock around the whole pipeline.
package envlock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Lock is a held per-environment lock.
type Lock struct {
	path string
}

// Acquire takes the lock for env under dir, failing if it is already held.
func Acquire(dir, env string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, env+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			owner := ""
			if raw, readErr := os.ReadFile(path); readErr == nil {
				owner = strings.TrimSpace(string(raw))
			}
			return nil, fmt.Errorf("environment %s is locked by another run (%s); remove %s if that run is dead", env, owner, path)
		}
		return nil, err
	}
	fmt.Fprintf(f, "pid=%d\n", os.Getpid())
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return &Lock{path: path}, nil
}

// Release drops the lock.
func (l *Lock) Release() {
	if l == nil {
		return
	}
	_ = os.Remove(l.path)
}

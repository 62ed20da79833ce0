// File: internal/registry/registry.go
// Brief: In-memory stack registry and version records for one run.

// Package registry tracks last-known stack state and version history during a
// single orchestrator invocation. Nothing here is persisted: every run the
// registry is re-derived from control-plane describe/list calls. Single-writer
// discipline applies: only the deployer mutates stack states and only the
// rollback coordinator mutates version records.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/userhub/opsctl/internal/controlplane"
)

// ResourceKind names a rollback-capable deployable.
type ResourceKind string

const (
	Function       ResourceKind = "function"
	StaticAssetSet ResourceKind = "frontend"
)

// StackState is the registry's record of one named stack.
type StackState struct {
	Name         string
	Status       controlplane.StackStatus
	LastChangeID string
	Parameters   map[string]string
	Outputs      map[string]string
}

// VersionRecord tracks the live version and history for one resource kind.
type VersionRecord struct {
	Kind    ResourceKind
	Current string
	History []string // oldest first
}

// Validate checks the Current-in-History invariant.
func (r VersionRecord) Validate() error {
	if r.Current == "" {
		return fmt.Errorf("%s: no current version", r.Kind)
	}
	for _, v := range r.History {
		if v == r.Current {
			return nil
		}
	}
	return fmt.Errorf("%s: current version %s missing from history", r.Kind, r.Current)
}

// Predecessor returns the entry immediately before Current in History.
// ok is false when Current is the oldest entry.
func (r VersionRecord) Predecessor() (string, bool) {
	for i, v := range r.History {
		if v == r.Current {
			if i == 0 {
				return "", false
			}
			return r.History[i-1], true
		}
	}
	return "", false
}

// Contains reports whether version appears in History.
func (r VersionRecord) Contains(version string) bool {
	for _, v := range r.History {
		if v == version {
			return true
		}
	}
	return false
}

// Registry holds per-run stack and version state.
type Registry struct {
	mu       sync.Mutex
	stacks   map[string]*StackState
	versions map[ResourceKind]VersionRecord
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		stacks:   make(map[string]*StackState),
		versions: make(map[ResourceKind]VersionRecord),
	}
}

// Hydrate seeds stack states for every stack in the plan from control-plane
// describes. Stacks the provider does not know yet are recorded as Absent.
func (r *Registry) Hydrate(ctx context.Context, svc controlplane.StackService, plan []controlplane.StackSpec) error {
	for _, spec := range plan {
		summary, err := svc.Describe(ctx, spec.Name)
		switch {
		case errors.Is(err, controlplane.ErrStackNotFound):
			r.put(&StackState{Name: spec.Name, Status: controlplane.StackAbsent})
		case err != nil:
			return fmt.Errorf("describe stack %s: %w", spec.Name, err)
		default:
			r.put(&StackState{
				Name:         summary.Name,
				Status:       summary.Status,
				LastChangeID: summary.LastChangeID,
				Parameters:   summary.Parameters,
				Outputs:      summary.Outputs,
			})
		}
	}
	return nil
}

// Stack returns a copy of the named stack's state.
func (r *Registry) Stack(name string) (StackState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stacks[name]
	if !ok {
		return StackState{}, false
	}
	return copyState(st), true
}

// SetStatus records a status transition for one stack.
func (r *Registry) SetStatus(name string, status controlplane.StackStatus, changeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stacks[name]
	if !ok {
		st = &StackState{Name: name}
		r.stacks[name] = st
	}
	st.Status = status
	if changeID != "" {
		st.LastChangeID = changeID
	}
}

// SetOutputs replaces the recorded outputs for one stack.
func (r *Registry) SetOutputs(name string, outputs map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.stacks[name]
	if !ok {
		st = &StackState{Name: name}
		r.stacks[name] = st
	}
	st.Outputs = make(map[string]string, len(outputs))
	for k, v := range outputs {
		st.Outputs[k] = v
	}
}

// MergedOutputs merges stack outputs in plan order. Later stacks win on key
// collision; colliding keys are returned so the caller can log them.
func (r *Registry) MergedOutputs(order []string) (map[string]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	merged := make(map[string]string)
	var collisions []string
	for _, name := range order {
		st, ok := r.stacks[name]
		if !ok {
			continue
		}
		for k, v := range st.Outputs {
			if _, dup := merged[k]; dup {
				collisions = append(collisions, k)
			}
			merged[k] = v
		}
	}
	return merged, collisions
}

// SetVersionRecord stores the version record for one resource kind.
func (r *Registry) SetVersionRecord(rec VersionRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[rec.Kind] = rec
	return nil
}

// VersionRecordFor returns the stored record for one resource kind.
func (r *Registry) VersionRecordFor(kind ResourceKind) (VersionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.versions[kind]
	return rec, ok
}

func (r *Registry) put(st *StackState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stacks[st.Name] = st
}

func copyState(st *StackState) StackState {
	out := *st
	out.Outputs = make(map[string]string, len(st.Outputs))
	for k, v := range st.Outputs {
		out.Outputs[k] = v
	}
	out.Parameters = make(map[string]string, len(st.Parameters))
	for k, v := range st.Parameters {
		out.Parameters[k] = v
	}
	return out
}

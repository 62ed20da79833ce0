// File: internal/controlplane/controlplane.go
// Brief: Vendor-neutral contracts for the resource control plane.

// Package controlplane defines the interfaces the orchestrator uses to talk
// to the cloud provider's resource-management APIs. The orchestrator never
// reasons about a specific vendor; the AWS binding lives in the awscp
// subpackage and is chosen at the CLI boundary.
package controlplane

import (
	"context"
	"time"
)

// StackStatus is the orchestrator's view of a stack's lifecycle.
type StackStatus string

const (
	StackAbsent      StackStatus = "Absent"
	StackCreating    StackStatus = "Creating"
	StackUpdating    StackStatus = "Updating"
	StackAvailable   StackStatus = "Available"
	StackFailed      StackStatus = "Failed"
	StackRollingBack StackStatus = "RollingBack"
)

// Terminal reports whether no further automatic transition will occur.
func (s StackStatus) Terminal() bool {
	return s == StackAvailable || s == StackFailed || s == StackAbsent
}

// StackSpec is the desired state for one named stack.
type StackSpec struct {
	Name         string            `yaml:"name"`
	TemplateRef  string            `yaml:"template"`
	Parameters   map[string]string `yaml:"parameters,omitempty"`
	Capabilities []string          `yaml:"capabilities,omitempty"`
}

// StackSummary is the control plane's last-known word on a stack.
type StackSummary struct {
	Name         string
	Status       StackStatus
	StatusReason string
	LastChangeID string
	Parameters   map[string]string
	Outputs      map[string]string
}

// StackEvent is a single provisioning event, surfaced verbatim.
type StackEvent struct {
	Timestamp    time.Time
	LogicalID    string
	ResourceType string
	Status       string
	Reason       string
}

// ChangeAction classifies one entry of a change preview.
type ChangeAction string

const (
	ChangeAdd     ChangeAction = "Add"
	ChangeModify  ChangeAction = "Modify"
	ChangeRemove  ChangeAction = "Remove"
	ChangeReplace ChangeAction = "Replace"
)

// ResourceChange is one resource-level entry of a change preview.
type ResourceChange struct {
	Action       ChangeAction
	LogicalID    string
	ResourceType string
}

// ChangeSet is a dry-run diff of what an update would do to a stack.
// It is ephemeral: created before an update, consumed by the verification
// gate, and discarded after accept or reject.
type ChangeSet struct {
	ID        string
	StackName string
	Changes   []ResourceChange
	// NoChanges is set when the provider reports the update is a no-op.
	NoChanges bool
}

// StackService drives stack create/update/describe on the control plane.
type StackService interface {
	// Describe returns the current summary, or ErrStackNotFound.
	Describe(ctx context.Context, name string) (*StackSummary, error)
	// Create starts stack creation and returns a change identifier.
	Create(ctx context.Context, spec StackSpec) (string, error)
	// Update starts a stack update, or returns ErrNoChanges for a no-op.
	Update(ctx context.Context, spec StackSpec) (string, error)
	// Events returns provisioning events newer than since, oldest first.
	Events(ctx context.Context, name string, since time.Time) ([]StackEvent, error)
	// PreviewChange computes a change set without applying it.
	PreviewChange(ctx context.Context, spec StackSpec) (*ChangeSet, error)
	// DiscardPreview deletes a change set created by PreviewChange.
	DiscardPreview(ctx context.Context, stackName, changeSetID string) error
}

// FunctionVersion is one immutable published version of the compute function.
type FunctionVersion struct {
	ID          string
	Description string
	Modified    time.Time
}

// FunctionService manages the compute function's version alias.
type FunctionService interface {
	// Versions lists published versions, oldest first.
	Versions(ctx context.Context, function string) ([]FunctionVersion, error)
	// AliasTarget returns the version the alias currently points at.
	AliasTarget(ctx context.Context, function, alias string) (string, error)
	// RetargetAlias points the alias at the given version.
	RetargetAlias(ctx context.Context, function, alias, version string) error
}

// AssetVersion is one immutable static asset set.
type AssetVersion struct {
	ID       string
	Modified time.Time
}

// AssetService manages the static asset store and its content cache.
type AssetService interface {
	// Versions lists released asset sets, oldest first.
	Versions(ctx context.Context) ([]AssetVersion, error)
	// Current returns the id of the live asset set.
	Current(ctx context.Context) (string, error)
	// Promote makes the given asset set live.
	Promote(ctx context.Context, version string) error
	// Snapshot copies the live asset set aside and returns its location.
	Snapshot(ctx context.Context, tag string) (string, error)
	// InvalidateCache purges the content cache for the given paths.
	InvalidateCache(ctx context.Context, paths []string) (string, error)
}

// MetricsWindow aggregates provider metrics over a time window.
type MetricsWindow struct {
	Start        time.Time
	End          time.Time
	Invocations  int64
	Errors       int64
	AvgLatencyMs float64
}

// MetricsReader pulls aggregate metrics for the monitoring report.
type MetricsReader interface {
	Read(ctx context.Context, start, end time.Time) (MetricsWindow, error)
}

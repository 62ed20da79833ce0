// File: internal/rollback/rollback.go
// Brief: Version rollback coordinator for function alias and asset set.

// Package rollback selects a target version from history, snapshots the
// current live state so the rollback is itself recoverable, applies the
// switch, and verifies it with bounded health probes. A rollback that
// applies but never verifies is reported as such and NOT reverted; the
// caller decides further action.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/userhub/opsctl/internal/config"
	"github.com/userhub/opsctl/internal/controlplane"
	"github.com/userhub/opsctl/internal/probe"
	"github.com/userhub/opsctl/internal/registry"
	"go.uber.org/zap"
)

// Target names what to roll back.
type Target string

const (
	TargetFunction Target = "function"
	TargetFrontend Target = "frontend"
	TargetBoth     Target = "both"
)

// ParseTarget validates a CLI target flag value.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetFunction, TargetFrontend, TargetBoth:
		return Target(s), nil
	default:
		return "", fmt.Errorf("unknown rollback target %q (expected function, frontend, or both)", s)
	}
}

// SnapshotRecorder persists a pre-switch snapshot record so every rollback
// can itself be undone.
type SnapshotRecorder interface {
	RecordSnapshot(ctx context.Context, kind, version, location, note string) (string, error)
}

// TargetResult is the per-target outcome of a rollback.
type TargetResult struct {
	Kind       registry.ResourceKind
	From       string
	To         string
	Applied    bool
	Verified   bool
	SnapshotID string
	// InvalidationID is set for frontend rollbacks when the content cache
	// purge was accepted.
	InvalidationID string
	Err            error
}

// Result is the outcome of one Rollback invocation.
type Result struct {
	Targets []TargetResult
}

// Coordinator drives version rollbacks.
type Coordinator struct {
	functions controlplane.FunctionService
	assets    controlplane.AssetService
	prober    probe.Prober
	reg       *registry.Registry
	snapshots SnapshotRecorder
	log       *zap.Logger

	verifyAttempts int
	verifyBackoff  time.Duration
	probeTimeout   time.Duration
	wait           func(ctx context.Context, d time.Duration) error
}

// Option adjusts coordinator construction.
type Option func(*Coordinator)

// WithVerifyBudget overrides the health verification retry budget.
func WithVerifyBudget(attempts int, backoff time.Duration) Option {
	return func(c *Coordinator) {
		if attempts > 0 {
			c.verifyAttempts = attempts
		}
		if backoff >= 0 {
			c.verifyBackoff = backoff
		}
	}
}

// New wires a coordinator. The registry must be reserved for this
// coordinator while a rollback is running; nothing else mutates version
// records.
func New(functions controlplane.FunctionService, assets controlplane.AssetService, prober probe.Prober, reg *registry.Registry, snapshots SnapshotRecorder, log *zap.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Coordinator{
		functions:      functions,
		assets:         assets,
		prober:         prober,
		reg:            reg,
		snapshots:      snapshots,
		log:            log,
		verifyAttempts: 3,
		verifyBackoff:  5 * time.Second,
		probeTimeout:   10 * time.Second,
		wait: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rollback rolls back the given target. TargetBoth runs function then
// frontend sequentially; each sub-target reports its own outcome and one
// failing does not stop the other. toVersion empty means "immediate
// predecessor of the current version".
func (c *Coordinator) Rollback(ctx context.Context, env *config.Environment, target Target, toVersion string) (Result, error) {
	var res Result
	// Version ids are per resource kind; one explicit id cannot name a
	// version in both histories.
	if target == TargetBoth && toVersion != "" {
		return res, fmt.Errorf("explicit version %q cannot apply to both targets; roll back function and frontend separately", toVersion)
	}
	switch target {
	case TargetFunction:
		res.Targets = append(res.Targets, c.rollbackFunction(ctx, env, toVersion))
	case TargetFrontend:
		res.Targets = append(res.Targets, c.rollbackFrontend(ctx, env, toVersion))
	case TargetBoth:
		res.Targets = append(res.Targets, c.rollbackFunction(ctx, env, toVersion))
		res.Targets = append(res.Targets, c.rollbackFrontend(ctx, env, toVersion))
	default:
		return res, fmt.Errorf("unknown rollback target %q", target)
	}
	var errs []error
	for _, tr := range res.Targets {
		if tr.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", tr.Kind, tr.Err))
		}
	}
	return res, errors.Join(errs...)
}

func (c *Coordinator) rollbackFunction(ctx context.Context, env *config.Environment, toVersion string) TargetResult {
	tr := TargetResult{Kind: registry.Function}

	versions, err := c.functions.Versions(ctx, env.Function.Name)
	if err != nil {
		tr.Err = fmt.Errorf("list function versions: %w", err)
		return tr
	}
	current, err := c.functions.AliasTarget(ctx, env.Function.Name, env.Function.Alias)
	if err != nil {
		tr.Err = fmt.Errorf("resolve alias %s: %w", env.Function.Alias, err)
		return tr
	}
	history := make([]string, len(versions))
	for i, v := range versions {
		history[i] = v.ID
	}
	rec := registry.VersionRecord{Kind: registry.Function, Current: current, History: history}
	if err := c.reg.SetVersionRecord(rec); err != nil {
		tr.Err = err
		return tr
	}
	tr.From = current

	tr.To, tr.Err = selectVersion(rec, toVersion)
	if tr.Err != nil {
		return tr
	}

	location := fmt.Sprintf("alias:%s/%s@%s", env.Function.Name, env.Function.Alias, current)
	snapID, err := c.snapshots.RecordSnapshot(ctx, string(registry.Function), current, location,
		fmt.Sprintf("pre-rollback to %s", tr.To))
	if err != nil {
		tr.Err = fmt.Errorf("record pre-rollback snapshot: %w", err)
		return tr
	}
	tr.SnapshotID = snapID

	if err := c.functions.RetargetAlias(ctx, env.Function.Name, env.Function.Alias, tr.To); err != nil {
		tr.Err = fmt.Errorf("retarget alias: %w", err)
		return tr
	}
	tr.Applied = true
	rec.Current = tr.To
	if err := c.reg.SetVersionRecord(rec); err != nil {
		c.log.Warn("version record update failed", zap.Error(err))
	}
	c.log.Info("function alias rolled back",
		zap.String("function", env.Function.Name),
		zap.String("from", tr.From),
		zap.String("to", tr.To))

	tr.Verified = c.verify(ctx, probe.API, env)
	return tr
}

func (c *Coordinator) rollbackFrontend(ctx context.Context, env *config.Environment, toVersion string) TargetResult {
	tr := TargetResult{Kind: registry.StaticAssetSet}

	versions, err := c.assets.Versions(ctx)
	if err != nil {
		tr.Err = fmt.Errorf("list asset versions: %w", err)
		return tr
	}
	current, err := c.assets.Current(ctx)
	if err != nil {
		tr.Err = fmt.Errorf("resolve current asset set: %w", err)
		return tr
	}
	history := make([]string, len(versions))
	for i, v := range versions {
		history[i] = v.ID
	}
	rec := registry.VersionRecord{Kind: registry.StaticAssetSet, Current: current, History: history}
	if err := c.reg.SetVersionRecord(rec); err != nil {
		tr.Err = err
		return tr
	}
	tr.From = current

	tr.To, tr.Err = selectVersion(rec, toVersion)
	if tr.Err != nil {
		return tr
	}

	tag := time.Now().UTC().Format("20060102-150405")
	location, err := c.assets.Snapshot(ctx, tag)
	if err != nil {
		tr.Err = fmt.Errorf("snapshot live asset set: %w", err)
		return tr
	}
	snapID, err := c.snapshots.RecordSnapshot(ctx, string(registry.StaticAssetSet), current, location,
		fmt.Sprintf("pre-rollback to %s", tr.To))
	if err != nil {
		tr.Err = fmt.Errorf("record pre-rollback snapshot: %w", err)
		return tr
	}
	tr.SnapshotID = snapID

	if err := c.assets.Promote(ctx, tr.To); err != nil {
		tr.Err = fmt.Errorf("promote asset set %s: %w", tr.To, err)
		return tr
	}
	tr.Applied = true
	rec.Current = tr.To
	if err := c.reg.SetVersionRecord(rec); err != nil {
		c.log.Warn("version record update failed", zap.Error(err))
	}

	invalidationID, err := c.assets.InvalidateCache(ctx, []string{"/*"})
	if err != nil {
		// Stale cache resolves on TTL expiry; the switch itself stands.
		c.log.Warn("cache invalidation failed", zap.Error(err))
	} else {
		tr.InvalidationID = invalidationID
	}
	c.log.Info("asset set rolled back",
		zap.String("from", tr.From),
		zap.String("to", tr.To),
		zap.String("invalidation", tr.InvalidationID))

	tr.Verified = c.verify(ctx, probe.Frontend, env)
	return tr
}

// selectVersion picks the rollback target: an explicit version must exist in
// history, an omitted one defaults to the predecessor of current.
func selectVersion(rec registry.VersionRecord, toVersion string) (string, error) {
	if toVersion != "" {
		if !rec.Contains(toVersion) {
			return "", &VersionNotFoundError{Kind: rec.Kind, Version: toVersion}
		}
		return toVersion, nil
	}
	prev, ok := rec.Predecessor()
	if !ok {
		return "", fmt.Errorf("%s %s: %w", rec.Kind, rec.Current, ErrNoPriorVersion)
	}
	return prev, nil
}

// verify probes the canonical endpoint up to the retry budget with fixed
// backoff. Exhausting the budget is not an error: the switch stands and the
// unverified state is reported to the caller.
func (c *Coordinator) verify(ctx context.Context, kind probe.EndpointKind, env *config.Environment) bool {
	url := env.Endpoint(string(kind))
	if url == "" {
		c.log.Warn("no endpoint configured; skipping health verification", zap.String("endpoint", string(kind)))
		return false
	}
	for attempt := 1; attempt <= c.verifyAttempts; attempt++ {
		res := c.prober.Probe(ctx, kind, url, c.probeTimeout)
		if res.Success {
			return true
		}
		c.log.Warn("health verification failed",
			zap.String("endpoint", string(kind)),
			zap.Int("attempt", attempt),
			zap.String("detail", res.Detail))
		if attempt < c.verifyAttempts {
			if err := c.wait(ctx, c.verifyBackoff); err != nil {
				return false
			}
		}
	}
	return false
}

// File: internal/deployer/deployer.go
// Brief: Ordered multi-stack deployment with fail-fast halt.

// Package deployer walks an environment's deployment plan in order, issuing
// create or update per stack and waiting for a terminal state before moving
// on. The plan order is the only dependency signal; stacks are never
// parallelized. A failed stack halts the plan immediately.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/userhub/opsctl/internal/config"
	"github.com/userhub/opsctl/internal/controlplane"
	"github.com/userhub/opsctl/internal/registry"
	"go.uber.org/zap"
)

// Action records what the deployer did for one stack.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionNoop   Action = "noop"
)

// StackOutcome is the per-stack entry of a DeployResult.
type StackOutcome struct {
	Name     string
	Action   Action
	Status   controlplane.StackStatus
	ChangeID string
}

// Result is the outcome of one Deploy invocation.
type Result struct {
	Success  bool
	Declined bool
	HaltedAt string
	Cause    error
	Outcomes []StackOutcome
	Outputs  map[string]string
}

// ChangeGate is the verification step applied before each stack update.
type ChangeGate interface {
	RequestChange(ctx context.Context, spec controlplane.StackSpec) (*controlplane.ChangeSet, error)
	Confirm(ctx context.Context, cs *controlplane.ChangeSet, priorParams, desiredParams map[string]string) (bool, error)
	Discard(ctx context.Context, cs *controlplane.ChangeSet) error
}

// Deployer drives the stack dependency walk.
type Deployer struct {
	stacks       controlplane.StackService
	reg          *registry.Registry
	gate         ChangeGate
	log          *zap.Logger
	pollInterval time.Duration
}

// Option adjusts deployer construction.
type Option func(*Deployer)

// WithPollInterval overrides the terminal-state polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(dep *Deployer) {
		if d > 0 {
			dep.pollInterval = d
		}
	}
}

// New wires a deployer. The registry must be reserved for this deployer for
// the duration of each Deploy call; no other component may mutate stack
// states concurrently.
func New(stacks controlplane.StackService, reg *registry.Registry, g ChangeGate, log *zap.Logger, opts ...Option) *Deployer {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Deployer{
		stacks:       stacks,
		reg:          reg,
		gate:         g,
		log:          log,
		pollInterval: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Deploy walks the environment's plan in order. Cancelling ctx does not
// abort the in-flight stack (cloud-side provisioning cannot be aborted
// safely); it stops further stacks from being scheduled.
func (d *Deployer) Deploy(ctx context.Context, env *config.Environment) (Result, error) {
	plan := env.EffectivePlan()
	if err := d.reg.Hydrate(ctx, d.stacks, plan); err != nil {
		return Result{Cause: err}, err
	}

	res := Result{Outcomes: make([]StackOutcome, 0, len(plan))}
	for _, spec := range plan {
		if err := ctx.Err(); err != nil {
			res.HaltedAt = spec.Name
			res.Cause = fmt.Errorf("deploy cancelled before stack %s: %w", spec.Name, err)
			return res, res.Cause
		}
		outcome, err := d.deployStack(ctx, env, spec)
		res.Outcomes = append(res.Outcomes, outcome)
		if err != nil {
			if errors.Is(err, errDeclined) {
				res.Declined = true
				res.HaltedAt = spec.Name
				return res, nil
			}
			res.HaltedAt = spec.Name
			res.Cause = err
			return res, err
		}
	}

	order := make([]string, len(plan))
	for i, spec := range plan {
		order[i] = spec.Name
	}
	outputs, collisions := d.reg.MergedOutputs(order)
	for _, key := range collisions {
		d.log.Warn("stack output key collision; later stack wins", zap.String("key", key))
	}
	res.Success = true
	res.Outputs = outputs
	return res, nil
}

var errDeclined = errors.New("change declined at confirmation")

func (d *Deployer) deployStack(ctx context.Context, env *config.Environment, spec controlplane.StackSpec) (StackOutcome, error) {
	state, _ := d.reg.Stack(spec.Name)
	outcome := StackOutcome{Name: spec.Name}

	// In-flight provider calls and polling outlive a user cancellation; the
	// walk stops at the next stack boundary instead.
	opCtx := context.WithoutCancel(ctx)

	if state.Status == controlplane.StackAbsent {
		outcome.Action = ActionCreate
		d.log.Info("creating stack", zap.String("stack", spec.Name))
		changeID, err := d.stacks.Create(opCtx, spec)
		if err != nil {
			return outcome, fmt.Errorf("create stack %s: %w", spec.Name, err)
		}
		outcome.ChangeID = changeID
		d.reg.SetStatus(spec.Name, controlplane.StackCreating, changeID)
	} else {
		outcome.Action = ActionUpdate
		approved, noop, err := d.verifyChange(ctx, spec, state)
		if err != nil {
			return outcome, err
		}
		if !approved {
			return outcome, errDeclined
		}
		if noop {
			outcome.Action = ActionNoop
			outcome.Status = state.Status
			d.log.Info("stack already up to date", zap.String("stack", spec.Name))
			return outcome, nil
		}
		d.log.Info("updating stack", zap.String("stack", spec.Name))
		changeID, err := d.stacks.Update(opCtx, spec)
		if errors.Is(err, controlplane.ErrNoChanges) {
			outcome.Action = ActionNoop
			outcome.Status = state.Status
			return outcome, nil
		}
		if err != nil {
			return outcome, fmt.Errorf("update stack %s: %w", spec.Name, err)
		}
		outcome.ChangeID = changeID
		d.reg.SetStatus(spec.Name, controlplane.StackUpdating, changeID)
	}

	status, err := d.waitTerminal(opCtx, spec.Name)
	outcome.Status = status
	if err != nil {
		return outcome, err
	}
	return outcome, nil
}

// verifyChange runs the change gate. The same code path serves protected and
// unprotected environments; only the confirmer policy differs, and the gate
// carries that policy. noop means the preview was empty and the update can
// be skipped.
func (d *Deployer) verifyChange(ctx context.Context, spec controlplane.StackSpec, state registry.StackState) (approved, noop bool, err error) {
	cs, err := d.gate.RequestChange(ctx, spec)
	if err != nil {
		return false, false, err
	}
	if cs.NoChanges || len(cs.Changes) == 0 {
		if err := d.gate.Discard(ctx, cs); err != nil {
			d.log.Warn("failed to discard no-op preview",
				zap.String("stack", spec.Name), zap.Error(err))
		}
		return true, true, nil
	}
	approved, err = d.gate.Confirm(ctx, cs, state.Parameters, spec.Parameters)
	if err != nil {
		return false, false, err
	}
	return approved, false, nil
}

// waitTerminal polls the stack until it reaches a terminal state. There is
// deliberately no overall timeout: provisioning can legitimately take tens of
// minutes. Intermediate failure events are surfaced verbatim as they arrive.
func (d *Deployer) waitTerminal(ctx context.Context, name string) (controlplane.StackStatus, error) {
	var lastEvent time.Time
	var failureEvents []controlplane.StackEvent
	for {
		events, err := d.stacks.Events(ctx, name, lastEvent)
		if err != nil {
			d.log.Warn("failed to fetch stack events", zap.String("stack", name), zap.Error(err))
		}
		for _, ev := range events {
			if ev.Timestamp.After(lastEvent) {
				lastEvent = ev.Timestamp
			}
			if isFailureEvent(ev) {
				failureEvents = append(failureEvents, ev)
				d.log.Error("stack event",
					zap.String("stack", name),
					zap.String("resource", ev.LogicalID),
					zap.String("status", ev.Status),
					zap.String("reason", ev.Reason))
			} else {
				d.log.Info("stack event",
					zap.String("stack", name),
					zap.String("resource", ev.LogicalID),
					zap.String("status", ev.Status))
			}
		}

		summary, err := d.stacks.Describe(ctx, name)
		if err != nil {
			return "", fmt.Errorf("describe stack %s: %w", name, err)
		}
		d.reg.SetStatus(name, summary.Status, summary.LastChangeID)
		if summary.Status == controlplane.StackFailed {
			d.reg.SetOutputs(name, summary.Outputs)
			return summary.Status, &DeployError{
				Stack:  name,
				Reason: summary.StatusReason,
				Events: failureEvents,
			}
		}
		if summary.Status.Terminal() {
			d.reg.SetOutputs(name, summary.Outputs)
			return summary.Status, nil
		}

		select {
		case <-ctx.Done():
			return summary.Status, ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}
}

func isFailureEvent(ev controlplane.StackEvent) bool {
	status := strings.ToUpper(ev.Status)
	return strings.Contains(status, "FAILED") || strings.Contains(status, "ROLLBACK")
}

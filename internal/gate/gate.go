// File: internal/gate/gate.go
// Brief: Change verification gate for protected-environment updates.

// Package gate computes a change preview for a pending stack update, renders
// it, and requires confirmation before the deployer proceeds. The preview is
// read-only on the target stack and is discarded after accept or reject.
package gate

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/userhub/opsctl/internal/controlplane"
	"go.uber.org/zap"
)

// Gate mediates stack updates through a change preview and a Confirmer.
type Gate struct {
	stacks    controlplane.StackService
	confirmer Confirmer
	out       io.Writer
	log       *zap.Logger
}

// New wires a gate. The confirmer decides the policy: interactive for
// protected environments, auto-approve elsewhere.
func New(stacks controlplane.StackService, confirmer Confirmer, out io.Writer, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{stacks: stacks, confirmer: confirmer, out: out, log: log}
}

// RequestChange computes a change preview for the desired spec without
// touching the stack.
func (g *Gate) RequestChange(ctx context.Context, spec controlplane.StackSpec) (*controlplane.ChangeSet, error) {
	cs, err := g.stacks.PreviewChange(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("preview change for %s: %w", spec.Name, err)
	}
	return cs, nil
}

// Confirm renders the preview and blocks until the confirmer answers. The
// preview is discarded regardless of the answer. A false return is a clean
// rejection, not an error.
func (g *Gate) Confirm(ctx context.Context, cs *controlplane.ChangeSet, priorParams, desiredParams map[string]string) (bool, error) {
	g.render(cs, priorParams, desiredParams)
	approved, err := g.confirmer.Confirm(ctx, fmt.Sprintf("Apply these changes to %s?", cs.StackName))
	if discardErr := g.stacks.DiscardPreview(ctx, cs.StackName, cs.ID); discardErr != nil {
		g.log.Warn("failed to discard change preview",
			zap.String("stack", cs.StackName),
			zap.String("changeSet", cs.ID),
			zap.Error(discardErr))
	}
	if err != nil {
		return false, err
	}
	if !approved {
		g.log.Info("change declined by operator", zap.String("stack", cs.StackName))
	}
	return approved, nil
}

// Discard drops a preview that will not be confirmed, e.g. a no-op.
func (g *Gate) Discard(ctx context.Context, cs *controlplane.ChangeSet) error {
	return g.stacks.DiscardPreview(ctx, cs.StackName, cs.ID)
}

func (g *Gate) render(cs *controlplane.ChangeSet, priorParams, desiredParams map[string]string) {
	if g.out == nil {
		return
	}
	bold := color.New(color.Bold)
	bold.Fprintf(g.out, "Change preview for stack %s\n", cs.StackName)
	if cs.NoChanges || len(cs.Changes) == 0 {
		fmt.Fprintln(g.out, "  (no resource changes)")
	}
	for _, ch := range cs.Changes {
		line := fmt.Sprintf("  %-8s %s (%s)", ch.Action, ch.LogicalID, ch.ResourceType)
		switch ch.Action {
		case controlplane.ChangeAdd:
			color.New(color.FgGreen).Fprintln(g.out, line)
		case controlplane.ChangeRemove, controlplane.ChangeReplace:
			color.New(color.FgRed).Fprintln(g.out, line)
		default:
			color.New(color.FgYellow).Fprintln(g.out, line)
		}
	}
	diff := paramDiff(cs.StackName, priorParams, desiredParams)
	if diff != "" {
		fmt.Fprintln(g.out, "Parameter changes:")
		fmt.Fprint(g.out, diff)
	}
}

// paramDiff renders a unified diff of the stack parameters, one key=value
// per line, sorted by key.
func paramDiff(stack string, prior, desired map[string]string) string {
	a := paramLines(prior)
	b := paramLines(desired)
	if strings.Join(a, "\n") == strings.Join(b, "\n") {
		return ""
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        withNewlines(a),
		B:        withNewlines(b),
		FromFile: stack + " (current)",
		ToFile:   stack + " (desired)",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return text
}

func paramLines(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return lines
}

func withNewlines(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "\n"
	}
	return out
}

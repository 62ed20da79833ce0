package deployer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/userhub/opsctl/internal/config"
	"github.com/userhub/opsctl/internal/controlplane"
	"github.com/userhub/opsctl/internal/gate"
	"github.com/userhub/opsctl/internal/registry"
)

// fakeStacks is a scripted control plane. Created stacks reach a terminal
// state on the first describe after create/update.
type fakeStacks struct {
	mu          sync.Mutex
	existing    map[string]controlplane.StackStatus
	noChanges   map[string]bool
	failOn      map[string]bool
	createCalls []string
	updateCalls []string
	discards    int
}

func newFakeStacks() *fakeStacks {
	return &fakeStacks{
		existing:  map[string]controlplane.StackStatus{},
		noChanges: map[string]bool{},
		failOn:    map[string]bool{},
	}
}

func (f *fakeStacks) Describe(ctx context.Context, name string) (*controlplane.StackSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.existing[name]
	if !ok {
		return nil, controlplane.ErrStackNotFound
	}
	summary := &controlplane.StackSummary{Name: name, Status: status}
	if status == controlplane.StackAvailable {
		summary.Outputs = map[string]string{name + "Out": "value"}
	}
	if status == controlplane.StackFailed {
		summary.StatusReason = "resource limit exceeded"
	}
	return summary, nil
}

func (f *fakeStacks) Create(ctx context.Context, spec controlplane.StackSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls = append(f.createCalls, spec.Name)
	if f.failOn[spec.Name] {
		f.existing[spec.Name] = controlplane.StackFailed
	} else {
		f.existing[spec.Name] = controlplane.StackAvailable
	}
	return "chg-" + spec.Name, nil
}

func (f *fakeStacks) Update(ctx context.Context, spec controlplane.StackSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls = append(f.updateCalls, spec.Name)
	if f.noChanges[spec.Name] {
		return "", controlplane.ErrNoChanges
	}
	if f.failOn[spec.Name] {
		f.existing[spec.Name] = controlplane.StackFailed
	} else {
		f.existing[spec.Name] = controlplane.StackAvailable
	}
	return "chg-" + spec.Name, nil
}

func (f *fakeStacks) Events(ctx context.Context, name string, since time.Time) ([]controlplane.StackEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existing[name] == controlplane.StackFailed {
		return []controlplane.StackEvent{{
			Timestamp: time.Now(),
			LogicalID: "Database",
			Status:    "CREATE_FAILED",
			Reason:    "resource limit exceeded",
		}}, nil
	}
	return nil, nil
}

func (f *fakeStacks) PreviewChange(ctx context.Context, spec controlplane.StackSpec) (*controlplane.ChangeSet, error) {
	cs := &controlplane.ChangeSet{ID: "cs-" + spec.Name, StackName: spec.Name}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noChanges[spec.Name] {
		cs.NoChanges = true
		return cs, nil
	}
	cs.Changes = []controlplane.ResourceChange{{
		Action:       controlplane.ChangeModify,
		LogicalID:    "Main",
		ResourceType: "Compute",
	}}
	return cs, nil
}

func (f *fakeStacks) DiscardPreview(ctx context.Context, stackName, changeSetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards++
	return nil
}

func testEnv(stackNames ...string) *config.Environment {
	plan := make([]controlplane.StackSpec, len(stackNames))
	for i, name := range stackNames {
		plan[i] = controlplane.StackSpec{Name: name, TemplateRef: "templates/" + name + ".yaml"}
	}
	return &config.Environment{Name: "staging", Region: "us-east-1", Plan: plan}
}

func newTestDeployer(stacks *fakeStacks, approve bool) (*Deployer, *registry.Registry) {
	reg := registry.New()
	g := gate.New(stacks, gate.AutoConfirmer{Approve: approve}, io.Discard, nil)
	return New(stacks, reg, g, nil, WithPollInterval(time.Millisecond)), reg
}

func TestDeployOrderAndHaltOnFailure(t *testing.T) {
	stacks := newFakeStacks()
	stacks.failOn["database"] = true
	d, _ := newTestDeployer(stacks, true)

	res, err := d.Deploy(context.Background(), testEnv("network", "database", "compute", "edge"))
	if err == nil {
		t.Fatal("expected deploy error")
	}
	if res.Success {
		t.Fatal("expected failure result")
	}
	if res.HaltedAt != "database" {
		t.Fatalf("haltedAt=%q want=database", res.HaltedAt)
	}
	var de *DeployError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeployError, got %T: %v", err, err)
	}
	if len(de.Events) == 0 {
		t.Fatal("failure events were not surfaced")
	}
	want := []string{"network", "database"}
	if len(stacks.createCalls) != len(want) {
		t.Fatalf("createCalls=%v want=%v", stacks.createCalls, want)
	}
	for i, name := range want {
		if stacks.createCalls[i] != name {
			t.Fatalf("createCalls=%v want=%v", stacks.createCalls, want)
		}
	}
}

func TestDeployAllSucceedMergesOutputs(t *testing.T) {
	stacks := newFakeStacks()
	d, _ := newTestDeployer(stacks, true)

	res, err := d.Deploy(context.Background(), testEnv("network", "database"))
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	if res.Outputs["networkOut"] != "value" || res.Outputs["databaseOut"] != "value" {
		t.Fatalf("merged outputs missing: %v", res.Outputs)
	}
}

func TestDeployDeclinedIsCleanCancellation(t *testing.T) {
	stacks := newFakeStacks()
	stacks.existing["network"] = controlplane.StackAvailable
	d, _ := newTestDeployer(stacks, false)

	res, err := d.Deploy(context.Background(), testEnv("network", "database"))
	if err != nil {
		t.Fatalf("declined must not be an error, got %v", err)
	}
	if !res.Declined {
		t.Fatal("expected declined result")
	}
	if res.HaltedAt != "network" {
		t.Fatalf("haltedAt=%q want=network", res.HaltedAt)
	}
	if len(stacks.updateCalls) != 0 {
		t.Fatalf("declined change must not be applied, updates=%v", stacks.updateCalls)
	}
	if len(stacks.createCalls) != 0 {
		t.Fatalf("later stacks must not be attempted, creates=%v", stacks.createCalls)
	}
}

func TestDeployIdempotentNoopSecondRun(t *testing.T) {
	stacks := newFakeStacks()
	d, _ := newTestDeployer(stacks, true)
	env := testEnv("network", "database")

	if _, err := d.Deploy(context.Background(), env); err != nil {
		t.Fatalf("first deploy: %v", err)
	}
	stacks.noChanges["network"] = true
	stacks.noChanges["database"] = true

	res, err := d.Deploy(context.Background(), env)
	if err != nil {
		t.Fatalf("second deploy: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	for _, outcome := range res.Outcomes {
		if outcome.Action != ActionNoop {
			t.Fatalf("stack %s action=%s want=noop", outcome.Name, outcome.Action)
		}
	}
	if len(stacks.updateCalls) != 0 {
		t.Fatalf("no-op previews must skip updates, got %v", stacks.updateCalls)
	}
	if stacks.discards != 2 {
		t.Fatalf("no-op previews must be discarded, discards=%d", stacks.discards)
	}
}

func TestDeployCancelledBeforeNextStack(t *testing.T) {
	stacks := newFakeStacks()
	d, _ := newTestDeployer(stacks, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := d.Deploy(ctx, testEnv("network", "database"))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if res.Success || res.Declined {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(stacks.createCalls) != 0 {
		t.Fatalf("cancelled deploy must not schedule stacks, creates=%v", stacks.createCalls)
	}
}

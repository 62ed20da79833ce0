package rollback

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/userhub/opsctl/internal/config"
	"github.com/userhub/opsctl/internal/controlplane"
	"github.com/userhub/opsctl/internal/probe"
	"github.com/userhub/opsctl/internal/registry"
)

type fakeFunctions struct {
	versions []string
	alias    string
	calls    []string
	failList bool
}

func (f *fakeFunctions) Versions(ctx context.Context, function string) ([]controlplane.FunctionVersion, error) {
	if f.failList {
		return nil, errors.New("throttled")
	}
	out := make([]controlplane.FunctionVersion, len(f.versions))
	for i, v := range f.versions {
		out[i] = controlplane.FunctionVersion{ID: v}
	}
	return out, nil
}

func (f *fakeFunctions) AliasTarget(ctx context.Context, function, alias string) (string, error) {
	return f.alias, nil
}

func (f *fakeFunctions) RetargetAlias(ctx context.Context, function, alias, version string) error {
	f.calls = append(f.calls, "retarget:"+version)
	f.alias = version
	return nil
}

type fakeAssets struct {
	versions []string
	current  string
	calls    []string
	failList bool
}

func (f *fakeAssets) Versions(ctx context.Context) ([]controlplane.AssetVersion, error) {
	if f.failList {
		return nil, errors.New("bucket unreachable")
	}
	out := make([]controlplane.AssetVersion, len(f.versions))
	for i, v := range f.versions {
		out[i] = controlplane.AssetVersion{ID: v}
	}
	return out, nil
}

func (f *fakeAssets) Current(ctx context.Context) (string, error) { return f.current, nil }

func (f *fakeAssets) Promote(ctx context.Context, version string) error {
	f.calls = append(f.calls, "promote:"+version)
	f.current = version
	return nil
}

func (f *fakeAssets) Snapshot(ctx context.Context, tag string) (string, error) {
	f.calls = append(f.calls, "snapshot:"+tag)
	return "snapshots/" + tag, nil
}

func (f *fakeAssets) InvalidateCache(ctx context.Context, paths []string) (string, error) {
	f.calls = append(f.calls, "invalidate")
	return "INV123", nil
}

type fakeProber struct {
	succeedAfter int // probe count before success; <0 never succeeds
	count        int
}

func (f *fakeProber) Probe(ctx context.Context, kind probe.EndpointKind, url string, timeout time.Duration) probe.Result {
	f.count++
	ok := f.succeedAfter >= 0 && f.count > f.succeedAfter
	res := probe.Result{Endpoint: kind, URL: url, Timestamp: time.Now(), Success: ok}
	if !ok {
		res.Detail = probe.DetailStatus + ": HTTP 503"
	}
	return res
}

type fakeSnapshots struct {
	records []string
}

func (f *fakeSnapshots) RecordSnapshot(ctx context.Context, kind, version, location, note string) (string, error) {
	f.records = append(f.records, fmt.Sprintf("%s@%s:%s", kind, version, location))
	return fmt.Sprintf("snap-%d", len(f.records)), nil
}

func rollbackEnv() *config.Environment {
	return &config.Environment{
		Name:             "production",
		Protected:        true,
		Region:           "us-east-1",
		APIEndpoint:      "https://api.example.com/health",
		FrontendEndpoint: "https://www.example.com/",
		Function:         config.FunctionTarget{Name: "userhub-api", Alias: "live"},
		Assets:           config.AssetTarget{Bucket: "userhub-frontend", Distribution: "E1ABC"},
		Plan:             []controlplane.StackSpec{{Name: "network", TemplateRef: "t.yaml"}},
	}
}

func newTestCoordinator(fns *fakeFunctions, assets *fakeAssets, prober *fakeProber, snaps *fakeSnapshots) *Coordinator {
	return New(fns, assets, prober, registry.New(), snaps, nil, WithVerifyBudget(2, 0))
}

func TestRollbackSelectsPredecessor(t *testing.T) {
	fns := &fakeFunctions{versions: []string{"v1", "v2", "v3"}, alias: "v3"}
	c := newTestCoordinator(fns, &fakeAssets{}, &fakeProber{}, &fakeSnapshots{})

	res, err := c.Rollback(context.Background(), rollbackEnv(), TargetFunction, "")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	tr := res.Targets[0]
	if tr.To != "v2" {
		t.Fatalf("to=%q want=v2", tr.To)
	}
	if !tr.Applied || !tr.Verified {
		t.Fatalf("applied=%v verified=%v want both", tr.Applied, tr.Verified)
	}
	if fns.alias != "v2" {
		t.Fatalf("alias=%q want=v2", fns.alias)
	}
}

func TestRollbackNoPriorVersion(t *testing.T) {
	fns := &fakeFunctions{versions: []string{"v1"}, alias: "v1"}
	c := newTestCoordinator(fns, &fakeAssets{}, &fakeProber{}, &fakeSnapshots{})

	_, err := c.Rollback(context.Background(), rollbackEnv(), TargetFunction, "")
	if !errors.Is(err, ErrNoPriorVersion) {
		t.Fatalf("err=%v want ErrNoPriorVersion", err)
	}
	if len(fns.calls) != 0 {
		t.Fatalf("no mutation expected, got %v", fns.calls)
	}
}

func TestRollbackVersionNotFound(t *testing.T) {
	fns := &fakeFunctions{versions: []string{"v1", "v2"}, alias: "v2"}
	c := newTestCoordinator(fns, &fakeAssets{}, &fakeProber{}, &fakeSnapshots{})

	_, err := c.Rollback(context.Background(), rollbackEnv(), TargetFunction, "v9")
	var nf *VersionNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err=%v want VersionNotFoundError", err)
	}
	if nf.Version != "v9" {
		t.Fatalf("version=%q want=v9", nf.Version)
	}
	if len(fns.calls) != 0 {
		t.Fatalf("no mutation expected, got %v", fns.calls)
	}
}

func TestRollbackSnapshotPrecedesSwitch(t *testing.T) {
	fns := &fakeFunctions{versions: []string{"v1", "v2", "v3"}, alias: "v3"}
	snaps := &fakeSnapshots{}
	c := newTestCoordinator(fns, &fakeAssets{}, &fakeProber{}, snaps)

	res, err := c.Rollback(context.Background(), rollbackEnv(), TargetFunction, "")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if len(snaps.records) != 1 {
		t.Fatalf("records=%v want one snapshot", snaps.records)
	}
	if res.Targets[0].SnapshotID == "" {
		t.Fatal("snapshot id missing from result")
	}
	// The snapshot must capture the pre-switch version.
	want := "function@v3:alias:userhub-api/live@v3"
	if snaps.records[0] != want {
		t.Fatalf("snapshot=%q want=%q", snaps.records[0], want)
	}
}

func TestRollbackUnverifiedIsNotReverted(t *testing.T) {
	fns := &fakeFunctions{versions: []string{"v1", "v2"}, alias: "v2"}
	prober := &fakeProber{succeedAfter: -1}
	c := newTestCoordinator(fns, &fakeAssets{}, prober, &fakeSnapshots{})

	res, err := c.Rollback(context.Background(), rollbackEnv(), TargetFunction, "")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	tr := res.Targets[0]
	if !tr.Applied || tr.Verified {
		t.Fatalf("applied=%v verified=%v want applied-only", tr.Applied, tr.Verified)
	}
	if prober.count != 2 {
		t.Fatalf("probe count=%d want=2 (retry budget)", prober.count)
	}
	if fns.alias != "v1" {
		t.Fatalf("alias=%q; unverified rollback must not be reverted", fns.alias)
	}
}

func TestRollbackRoundTrip(t *testing.T) {
	fns := &fakeFunctions{versions: []string{"v1", "v2", "v3"}, alias: "v3"}
	c := newTestCoordinator(fns, &fakeAssets{}, &fakeProber{}, &fakeSnapshots{})
	env := rollbackEnv()

	if _, err := c.Rollback(context.Background(), env, TargetFunction, "v2"); err != nil {
		t.Fatalf("first rollback: %v", err)
	}
	if _, err := c.Rollback(context.Background(), env, TargetFunction, "v3"); err != nil {
		t.Fatalf("second rollback: %v", err)
	}
	if fns.alias != "v3" {
		t.Fatalf("alias=%q want original v3 restored", fns.alias)
	}
	vs, _ := fns.Versions(context.Background(), "userhub-api")
	if len(vs) != 3 {
		t.Fatalf("history lost entries: %v", vs)
	}
}

func TestRollbackFrontendPromotesAndInvalidates(t *testing.T) {
	assets := &fakeAssets{versions: []string{"r1", "r2", "r3"}, current: "r3"}
	c := newTestCoordinator(&fakeFunctions{}, assets, &fakeProber{}, &fakeSnapshots{})

	res, err := c.Rollback(context.Background(), rollbackEnv(), TargetFrontend, "")
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	tr := res.Targets[0]
	if tr.To != "r2" || assets.current != "r2" {
		t.Fatalf("to=%q current=%q want=r2", tr.To, assets.current)
	}
	if tr.InvalidationID != "INV123" {
		t.Fatalf("invalidation=%q want=INV123", tr.InvalidationID)
	}
	// Provider-side snapshot happens before the promote.
	var sawSnapshot bool
	for _, call := range assets.calls {
		if call == "promote:r2" && !sawSnapshot {
			t.Fatalf("promote before snapshot: %v", assets.calls)
		}
		if len(call) > 8 && call[:8] == "snapshot" {
			sawSnapshot = true
		}
	}
}

func TestRollbackBothRejectsExplicitVersion(t *testing.T) {
	fns := &fakeFunctions{versions: []string{"v1", "v2", "v3"}, alias: "v3"}
	assets := &fakeAssets{versions: []string{"rel-1", "rel-2"}, current: "rel-2"}
	snaps := &fakeSnapshots{}
	c := newTestCoordinator(fns, assets, &fakeProber{}, snaps)

	res, err := c.Rollback(context.Background(), rollbackEnv(), TargetBoth, "v2")
	if err == nil {
		t.Fatal("expected an error for an explicit version across both targets")
	}
	if len(res.Targets) != 0 {
		t.Fatalf("targets=%v want none attempted", res.Targets)
	}
	if len(fns.calls) != 0 || len(assets.calls) != 0 || len(snaps.records) != 0 {
		t.Fatalf("no mutation may happen: fns=%v assets=%v snaps=%v", fns.calls, assets.calls, snaps.records)
	}
}

func TestRollbackBothReportsPartialSuccess(t *testing.T) {
	fns := &fakeFunctions{versions: []string{"v1", "v2"}, alias: "v2"}
	assets := &fakeAssets{failList: true}
	c := newTestCoordinator(fns, assets, &fakeProber{}, &fakeSnapshots{})

	res, err := c.Rollback(context.Background(), rollbackEnv(), TargetBoth, "")
	if err == nil {
		t.Fatal("expected combined error for failed frontend target")
	}
	if len(res.Targets) != 2 {
		t.Fatalf("targets=%d want=2", len(res.Targets))
	}
	if !res.Targets[0].Applied || res.Targets[0].Err != nil {
		t.Fatalf("function target should succeed: %+v", res.Targets[0])
	}
	if res.Targets[1].Applied || res.Targets[1].Err == nil {
		t.Fatalf("frontend target should fail cleanly: %+v", res.Targets[1])
	}
}

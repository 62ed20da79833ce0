// File: internal/registry/registry_test.go
// Brief: Version record invariants and output merging.

package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/userhub/opsctl/internal/controlplane"
)

func TestVersionRecordPredecessor(t *testing.T) {
	tests := []struct {
		name    string
		rec     VersionRecord
		want    string
		wantOK  bool
		invalid bool
	}{
		{
			name:   "middle of history",
			rec:    VersionRecord{Kind: Function, Current: "3", History: []string{"1", "2", "3", "4"}},
			want:   "2",
			wantOK: true,
		},
		{
			name:   "newest entry",
			rec:    VersionRecord{Kind: Function, Current: "4", History: []string{"1", "2", "3", "4"}},
			want:   "3",
			wantOK: true,
		},
		{
			name:   "oldest entry has no predecessor",
			rec:    VersionRecord{Kind: Function, Current: "1", History: []string{"1", "2"}},
			wantOK: false,
		},
		{
			name:    "current missing from history",
			rec:     VersionRecord{Kind: Function, Current: "9", History: []string{"1", "2"}},
			wantOK:  false,
			invalid: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.rec.Validate(); (err != nil) != tt.invalid {
				t.Fatalf("Validate() error = %v, invalid = %v", err, tt.invalid)
			}
			got, ok := tt.rec.Predecessor()
			if ok != tt.wantOK {
				t.Fatalf("Predecessor() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("Predecessor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSetVersionRecordRejectsInvalid(t *testing.T) {
	reg := New()
	err := reg.SetVersionRecord(VersionRecord{Kind: StaticAssetSet, Current: "rel-9", History: []string{"rel-1"}})
	if err == nil {
		t.Fatal("expected invalid record to be rejected")
	}
	if _, ok := reg.VersionRecordFor(StaticAssetSet); ok {
		t.Fatal("rejected record must not be stored")
	}
}

func TestMergedOutputsLaterStackWins(t *testing.T) {
	reg := New()
	reg.SetStatus("network", controlplane.StackAvailable, "")
	reg.SetOutputs("network", map[string]string{"VpcId": "vpc-1", "ApiUrl": "https://old.example.com"})
	reg.SetStatus("api", controlplane.StackAvailable, "")
	reg.SetOutputs("api", map[string]string{"ApiUrl": "https://api.example.com"})

	merged, collisions := reg.MergedOutputs([]string{"network", "api"})
	if merged["ApiUrl"] != "https://api.example.com" {
		t.Fatalf("ApiUrl = %q, want the later stack's value", merged["ApiUrl"])
	}
	if merged["VpcId"] != "vpc-1" {
		t.Fatalf("VpcId = %q, want vpc-1", merged["VpcId"])
	}
	if len(collisions) != 1 || collisions[0] != "ApiUrl" {
		t.Fatalf("collisions = %v, want [ApiUrl]", collisions)
	}
}

type describeFunc func(ctx context.Context, name string) (*controlplane.StackSummary, error)

func (f describeFunc) Describe(ctx context.Context, name string) (*controlplane.StackSummary, error) {
	return f(ctx, name)
}
func (describeFunc) Create(context.Context, controlplane.StackSpec) (string, error) {
	return "", errors.New("not implemented")
}
func (describeFunc) Update(context.Context, controlplane.StackSpec) (string, error) {
	return "", errors.New("not implemented")
}
func (describeFunc) Events(context.Context, string, time.Time) ([]controlplane.StackEvent, error) {
	return nil, nil
}
func (describeFunc) PreviewChange(context.Context, controlplane.StackSpec) (*controlplane.ChangeSet, error) {
	return nil, errors.New("not implemented")
}
func (describeFunc) DiscardPreview(context.Context, string, string) error { return nil }

func TestHydrateRecordsMissingStacksAsAbsent(t *testing.T) {
	svc := describeFunc(func(_ context.Context, name string) (*controlplane.StackSummary, error) {
		if name == "database" {
			return nil, controlplane.ErrStackNotFound
		}
		return &controlplane.StackSummary{Name: name, Status: controlplane.StackAvailable}, nil
	})
	reg := New()
	plan := []controlplane.StackSpec{{Name: "network"}, {Name: "database"}}
	if err := reg.Hydrate(context.Background(), svc, plan); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	st, ok := reg.Stack("database")
	if !ok || st.Status != controlplane.StackAbsent {
		t.Fatalf("database state = %+v (ok=%v), want Absent", st, ok)
	}
	st, ok = reg.Stack("network")
	if !ok || st.Status != controlplane.StackAvailable {
		t.Fatalf("network state = %+v (ok=%v), want Available", st, ok)
	}
}

func TestStackReturnsCopy(t *testing.T) {
	reg := New()
	reg.SetStatus("api", controlplane.StackAvailable, "chg-1")
	reg.SetOutputs("api", map[string]string{"ApiUrl": "https://api.example.com"})

	st, _ := reg.Stack("api")
	st.Outputs["ApiUrl"] = "mutated"

	again, _ := reg.Stack("api")
	if again.Outputs["ApiUrl"] != "https://api.example.com" {
		t.Fatal("mutating a returned copy must not affect the registry")
	}
}

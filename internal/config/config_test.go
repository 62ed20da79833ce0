// File: internal/config/config_test.go
// Brief: Environment document loading, validation, and parameter merging.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/userhub/opsctl/internal/controlplane"
)

const validDoc = `
name: staging
protected: false
region: us-east-1
api_endpoint: https://api.staging.example.com/health
frontend_endpoint: https://staging.example.com
function:
  name: userhub-api
  alias: live
assets:
  bucket: userhub-staging-frontend
  distribution: E2ABCDEF123456
parameters:
  LogLevel: info
plan:
  - name: userhub-staging-network
    template: deploy/templates/network.yaml
  - name: userhub-staging-database
    template: deploy/templates/database.yaml
    parameters:
      InstanceClass: db.t3.small
  - name: userhub-staging-api
    template: https://templates.example.com/api.yaml
    capabilities: [CAPABILITY_IAM]
`

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staging.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidDocument(t *testing.T) {
	env, err := Load(writeDoc(t, validDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if env.Name != "staging" || env.Region != "us-east-1" {
		t.Fatalf("unexpected identity: %+v", env)
	}
	if env.Function.Alias != "live" {
		t.Fatalf("function alias = %q, want live", env.Function.Alias)
	}
	if len(env.Plan) != 3 {
		t.Fatalf("plan length = %d, want 3", len(env.Plan))
	}
	if got := env.Plan[2].Capabilities; len(got) != 1 || got[0] != "CAPABILITY_IAM" {
		t.Fatalf("capabilities = %v", got)
	}
}

func TestLoadRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing region",
			mutate:  func(doc string) string { return strings.Replace(doc, "region: us-east-1", "", 1) },
			wantErr: "region is required",
		},
		{
			name:    "empty plan",
			mutate:  func(doc string) string { return doc[:strings.Index(doc, "plan:")] + "plan: []\n" },
			wantErr: "at least one stack",
		},
		{
			name: "duplicate stack names",
			mutate: func(doc string) string {
				return strings.Replace(doc, "userhub-staging-database", "userhub-staging-network", 1)
			},
			wantErr: "duplicate stack",
		},
		{
			name: "missing template",
			mutate: func(doc string) string {
				return strings.Replace(doc, "    template: deploy/templates/network.yaml\n", "", 1)
			},
			wantErr: "template is required",
		},
		{
			name: "relative endpoint",
			mutate: func(doc string) string {
				return strings.Replace(doc, "https://api.staging.example.com/health", "/health", 1)
			},
			wantErr: "not an absolute URL",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeDoc(t, tt.mutate(validDoc)))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Load error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestEffectivePlanMergesSharedParameters(t *testing.T) {
	env, err := Load(writeDoc(t, validDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	plan := env.EffectivePlan()
	if got := plan[0].Parameters["LogLevel"]; got != "info" {
		t.Fatalf("shared parameter not merged, LogLevel = %q", got)
	}
	if got := plan[1].Parameters["InstanceClass"]; got != "db.t3.small" {
		t.Fatalf("stack parameter lost, InstanceClass = %q", got)
	}
	// The source plan must stay untouched.
	if env.Plan[0].Parameters != nil {
		t.Fatalf("EffectivePlan mutated the source plan: %v", env.Plan[0].Parameters)
	}
}

func TestEffectivePlanStackParameterWins(t *testing.T) {
	env := &Environment{
		Parameters: map[string]string{"LogLevel": "info"},
		Plan: []controlplane.StackSpec{{
			Name:       "api",
			Parameters: map[string]string{"LogLevel": "debug"},
		}},
	}
	plan := env.EffectivePlan()
	if got := plan[0].Parameters["LogLevel"]; got != "debug" {
		t.Fatalf("LogLevel = %q, want the stack-level value", got)
	}
}

func TestDefaultPath(t *testing.T) {
	want := filepath.Join("deploy", "environments", "production.yaml")
	if got := DefaultPath("production"); got != want {
		t.Fatalf("DefaultPath = %q, want %q", got, want)
	}
}

func TestEndpointLookup(t *testing.T) {
	env := &Environment{APIEndpoint: "https://api.example.com", FrontendEndpoint: "https://www.example.com"}
	if got := env.Endpoint("API"); got != "https://api.example.com" {
		t.Fatalf("Endpoint(API) = %q", got)
	}
	if got := env.Endpoint("frontend"); got != "https://www.example.com" {
		t.Fatalf("Endpoint(frontend) = %q", got)
	}
	if got := env.Endpoint("db"); got != "" {
		t.Fatalf("Endpoint(db) = %q, want empty", got)
	}
}

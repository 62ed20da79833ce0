// File: internal/config/config.go
// Brief: Per-environment deployment configuration model and loader.

// Package config loads the per-environment parameter documents that drive the
// orchestrator. An Environment value is passed explicitly into every
// component call; nothing in this package is process-global.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/userhub/opsctl/internal/controlplane"
	"gopkg.in/yaml.v3"
)

// FunctionTarget identifies the compute function and its live alias.
type FunctionTarget struct {
	Name  string `yaml:"name"`
	Alias string `yaml:"alias"`
}

// AssetTarget identifies the static asset store and its content cache.
type AssetTarget struct {
	Bucket       string `yaml:"bucket"`
	Distribution string `yaml:"distribution"`
}

// Environment is the full configuration for one deployable environment.
type Environment struct {
	Name             string                   `yaml:"name"`
	Protected        bool                     `yaml:"protected"`
	Region           string                   `yaml:"region"`
	APIEndpoint      string                   `yaml:"api_endpoint"`
	FrontendEndpoint string                   `yaml:"frontend_endpoint"`
	Function         FunctionTarget           `yaml:"function"`
	Assets           AssetTarget              `yaml:"assets"`
	Plan             []controlplane.StackSpec `yaml:"plan"`
	// Parameters are shared key/value pairs merged into every stack spec.
	// Stack-level parameters win on collision.
	Parameters map[string]string `yaml:"parameters,omitempty"`
}

// DefaultPath returns the conventional location of an environment document.
func DefaultPath(env string) string {
	return filepath.Join("deploy", "environments", env+".yaml")
}

// Load reads and validates an environment document.
func Load(path string) (*Environment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read environment config: %w", err)
	}
	var env Environment
	if err := yaml.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse environment config %s: %w", path, err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("invalid environment config %s: %w", path, err)
	}
	return &env, nil
}

// Validate checks the structural invariants the orchestrator relies on.
func (e *Environment) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(e.Region) == "" {
		return fmt.Errorf("region is required")
	}
	if len(e.Plan) == 0 {
		return fmt.Errorf("plan must list at least one stack")
	}
	seen := make(map[string]struct{}, len(e.Plan))
	for i, spec := range e.Plan {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return fmt.Errorf("plan[%d]: stack name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("plan: duplicate stack %q", name)
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(spec.TemplateRef) == "" {
			return fmt.Errorf("plan[%d] (%s): template is required", i, name)
		}
	}
	for _, ep := range []struct{ label, value string }{
		{"api_endpoint", e.APIEndpoint},
		{"frontend_endpoint", e.FrontendEndpoint},
	} {
		if ep.value == "" {
			continue
		}
		u, err := url.Parse(ep.value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s %q is not an absolute URL", ep.label, ep.value)
		}
	}
	return nil
}

// EffectivePlan returns the plan with shared parameters merged into each
// stack spec. The input plan is not mutated.
func (e *Environment) EffectivePlan() []controlplane.StackSpec {
	out := make([]controlplane.StackSpec, len(e.Plan))
	for i, spec := range e.Plan {
		merged := make(map[string]string, len(e.Parameters)+len(spec.Parameters))
		for k, v := range e.Parameters {
			merged[k] = v
		}
		for k, v := range spec.Parameters {
			merged[k] = v
		}
		spec.Parameters = merged
		out[i] = spec
	}
	return out
}

// Endpoint returns the probe URL for the given endpoint kind label.
func (e *Environment) Endpoint(kind string) string {
	switch strings.ToLower(kind) {
	case "api":
		return e.APIEndpoint
	case "frontend":
		return e.FrontendEndpoint
	default:
		return ""
	}
}

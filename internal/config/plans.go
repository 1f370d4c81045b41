package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// DefaultPlan is used when a caller carries no plan claim
const DefaultPlan = "default"

// Plan holds the per-tier wizard limits
type Plan struct {
	MaxTools int `yaml:"max_tools"`
	Credits  int `yaml:"credits"` // activation credits per organization, 0 is unlimited
}

// Plans maps a plan name to its limits
type Plans struct {
	Plans    map[string]Plan `yaml:"plans"`
	fallback int
}

// NewPlans returns plans that only know the default tier
func NewPlans(defaultMaxTools int) *Plans {
	return &Plans{
		Plans:    map[string]Plan{DefaultPlan: {MaxTools: defaultMaxTools}},
		fallback: defaultMaxTools,
	}
}

// LoadPlans reads a plans YAML file. An empty path yields the default tier only.
func LoadPlans(path string, defaultMaxTools int) (*Plans, error) {
	plans := NewPlans(defaultMaxTools)
	if path == "" {
		return plans, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plans file: %w", err)
	}

	var parsed Plans
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("invalid plans file: %w", err)
	}

	for name, plan := range parsed.Plans {
		if plan.MaxTools < 1 {
			return nil, fmt.Errorf("plan %q: max_tools must be positive", name)
		}
		if plan.Credits < 0 {
			return nil, fmt.Errorf("plan %q: credits cannot be negative", name)
		}
		plans.Plans[name] = plan
	}

	return plans, nil
}

// Lookup returns the tier for a plan, falling back to the default tier
func (p *Plans) Lookup(plan string) Plan {
	if plan == "" {
		plan = DefaultPlan
	}
	if tier, ok := p.Plans[plan]; ok {
		return tier
	}
	if tier, ok := p.Plans[DefaultPlan]; ok {
		return tier
	}
	return Plan{MaxTools: p.fallback}
}

// MaxTools returns the tool selection cap for a plan
func (p *Plans) MaxTools(plan string) int {
	return p.Lookup(plan).MaxTools
}

// Credits returns the activation allowance of a plan; 0 means unlimited
func (p *Plans) Credits(plan string) int {
	return p.Lookup(plan).Credits
}

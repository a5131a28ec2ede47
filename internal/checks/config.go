// Package checks defines the balance checks run each cycle and the
// scheduler that keeps the cycle loop going.
package checks

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/openjobspec/ojs-operator-checks/internal/core"
)

// Probe types a target can use.
const (
	ProbeNative  = "native"
	ProbeERC20   = "erc20"
	ProbeTurbo   = "turbo"
	ProbeArweave = "arweave"
)

// File is the on-disk checks definition.
type File struct {
	Checks []Definition `yaml:"checks"`
}

// Definition is one child of a cycle: a named group of targets probed together.
type Definition struct {
	Name    string   `yaml:"name"`
	Targets []Target `yaml:"targets"`
}

// Target is a single balance with its threshold band.
type Target struct {
	Kind    string `yaml:"kind"`
	Probe   string `yaml:"probe"`
	Address string `yaml:"address"`
	Min     string `yaml:"min"`
	Max     string `yaml:"max"`
	Refill  string `yaml:"refill,omitempty"`

	Policy core.ThresholdPolicy `yaml:"-"`
}

// LoadChecks reads and validates a checks file. Environment references
// such as ${FACILITY_OPERATOR_ADDRESS} are expanded before parsing.
func LoadChecks(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewConfigurationError("Unable to read checks file.", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
	return ParseChecks([]byte(os.ExpandEnv(string(raw))))
}

// ParseChecks decodes and validates a checks document.
func ParseChecks(data []byte) ([]Definition, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, core.NewConfigurationError("Checks file is not valid YAML.", map[string]any{"error": err.Error()})
	}
	if len(f.Checks) == 0 {
		return nil, core.NewConfigurationError("Checks file defines no checks.", nil)
	}

	names := make(map[string]bool, len(f.Checks))
	kinds := make(map[string]bool)
	for i := range f.Checks {
		def := &f.Checks[i]
		if def.Name == "" {
			return nil, core.NewConfigurationError("Check is missing a name.", map[string]any{"index": i})
		}
		if names[def.Name] {
			return nil, core.NewConfigurationError("Duplicate check name.", map[string]any{"check": def.Name})
		}
		names[def.Name] = true

		for j := range def.Targets {
			t := &def.Targets[j]
			if err := t.validate(); err != nil {
				return nil, fmt.Errorf("check %s: %w", def.Name, err)
			}
			if kinds[t.Kind] {
				return nil, core.NewConfigurationError("Duplicate target kind.", map[string]any{"kind": t.Kind})
			}
			kinds[t.Kind] = true
		}
	}
	return f.Checks, nil
}

func (t *Target) validate() error {
	if t.Kind == "" {
		return core.NewConfigurationError("Target is missing a kind.", nil)
	}
	switch t.Probe {
	case ProbeNative, ProbeERC20, ProbeTurbo, ProbeArweave:
	default:
		return core.NewConfigurationError("Unknown probe type.", map[string]any{"kind": t.Kind, "probe": t.Probe})
	}
	if t.Refill != "" && !core.IsRefillKind(t.Refill) {
		return core.NewConfigurationError("Unknown refill kind.", map[string]any{"kind": t.Kind, "refill": t.Refill})
	}

	lo, err := decimal.NewFromString(t.Min)
	if err != nil {
		return core.NewConfigurationError("Threshold min is not a number.", map[string]any{"kind": t.Kind, "min": t.Min})
	}
	hi, err := decimal.NewFromString(t.Max)
	if err != nil {
		return core.NewConfigurationError("Threshold max is not a number.", map[string]any{"kind": t.Kind, "max": t.Max})
	}
	t.Policy = core.ThresholdPolicy{Min: lo, Max: hi}
	if err := t.Policy.Validate(); err != nil {
		return fmt.Errorf("target %s: %w", t.Kind, err)
	}
	return nil
}

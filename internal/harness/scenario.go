package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/shipsure/internal/policy"
)

// Scenario is one end-to-end reconciliation script.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Reserve funds the ledger before any policy is created.
	Reserve string `yaml:"reserve,omitempty"`

	// Policies are created on the ledger and projected into the mirror, in
	// order, before the flow runs.
	Policies []PolicySetup `yaml:"policies"`

	// Oracle scripts observations per shipment.
	Oracle map[string][]OracleStep `yaml:"oracle,omitempty"`

	// Flow is the sequence of engine operations.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final mirror and ledger state.
	Assertions []Assertion `yaml:"assertions"`
}

// PolicySetup insures one shipment.
type PolicySetup struct {
	Shipment string        `yaml:"shipment"`
	Holder   string        `yaml:"holder,omitempty"`   // defaults to DefaultHolder
	Coverage string        `yaml:"coverage"`
	Duration time.Duration `yaml:"duration,omitempty"` // defaults to DefaultDuration
}

// OracleStep is one scripted observation: a status, or an oracle failure.
type OracleStep struct {
	Status string `yaml:"status,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// Step is one engine operation.
type Step struct {
	// Step is one of cycle, check, expire, advance.
	Step string `yaml:"step"`

	// Shipment is the target of check.
	Shipment string `yaml:"shipment,omitempty"`

	// Duration is how far advance moves the clock.
	Duration time.Duration `yaml:"duration,omitempty"`

	// Expect is a subset match on the step summary.
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Step names.
const (
	StepCycle   = "cycle"
	StepCheck   = "check"
	StepExpire  = "expire"
	StepAdvance = "advance"
)

// Assertion validates final state.
type Assertion struct {
	Type     string                 `yaml:"type"`
	Shipment string                 `yaml:"shipment,omitempty"`
	Layer    string                 `yaml:"layer,omitempty"` // mirror | ledger | both
	Expect   map[string]interface{} `yaml:"expect,omitempty"`
	Count    int                    `yaml:"count,omitempty"`
	Status   string                 `yaml:"status,omitempty"`
	Amount   string                 `yaml:"amount,omitempty"`
}

// Assertion type constants.
const (
	AssertPolicyState = "policy_state"
	AssertClaims      = "claims"
	AssertTracking    = "tracking"
	AssertReserve     = "reserve"
	AssertInSync      = "in_sync"
	AssertOracleCalls = "oracle_calls"
)

// Defaults applied to policy setup.
const (
	DefaultHolder   = "0xholder"
	DefaultDuration = 30 * 24 * time.Hour
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Reserve != "" {
		if _, err := policy.ParseAmount(s.Reserve); err != nil {
			return fmt.Errorf("reserve: %w", err)
		}
	}

	for i, p := range s.Policies {
		if p.Shipment == "" {
			return fmt.Errorf("policies[%d]: shipment is required", i)
		}
		if _, err := policy.ParseAmount(p.Coverage); err != nil {
			return fmt.Errorf("policies[%d]: coverage: %w", i, err)
		}
	}

	for shipment, steps := range s.Oracle {
		for i, st := range steps {
			switch {
			case st.Status != "" && st.Error != "":
				return fmt.Errorf("oracle.%s[%d]: status and error are exclusive", shipment, i)
			case st.Error != "":
			case st.Status == "":
				return fmt.Errorf("oracle.%s[%d]: status or error is required", shipment, i)
			default:
				if _, err := policy.ParseShipmentStatus(st.Status); err != nil {
					return fmt.Errorf("oracle.%s[%d]: %w", shipment, i, err)
				}
			}
		}
	}

	for i, step := range s.Flow {
		switch step.Step {
		case StepCycle, StepExpire:
		case StepCheck:
			if step.Shipment == "" {
				return fmt.Errorf("flow[%d]: shipment is required for check", i)
			}
		case StepAdvance:
			if step.Duration <= 0 {
				return fmt.Errorf("flow[%d]: positive duration is required for advance", i)
			}
		case "":
			return fmt.Errorf("flow[%d]: step is required", i)
		default:
			return fmt.Errorf("flow[%d]: unknown step %q", i, step.Step)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertPolicyState:
		if a.Shipment == "" {
			return fmt.Errorf("assertions[%d]: shipment is required for policy_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for policy_state", index)
		}
		switch a.Layer {
		case "", "mirror", "ledger", "both":
		default:
			return fmt.Errorf("assertions[%d]: unknown layer %q", index, a.Layer)
		}
	case AssertClaims, AssertTracking, AssertOracleCalls:
		if a.Shipment == "" {
			return fmt.Errorf("assertions[%d]: shipment is required for %s", index, a.Type)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertReserve:
		if _, err := policy.ParseAmount(a.Amount); err != nil {
			return fmt.Errorf("assertions[%d]: amount: %w", index, err)
		}
	case AssertInSync:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

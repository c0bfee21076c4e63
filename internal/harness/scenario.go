package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario describes one store, its subscribers, and the steps run against it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Initial is the state the store is created with.
	Initial map[string]any `yaml:"initial"`

	// Persistence enables the persistence bridge when set.
	Persistence *Persistence `yaml:"persistence,omitempty"`

	// Subscriptions are registered in order before the first step.
	Subscriptions []Subscription `yaml:"subscriptions"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Persistence mirrors statestore.PersistenceConfig without the backend.
type Persistence struct {
	StorageID   string   `yaml:"storage_id"`
	IncludeKeys []string `yaml:"include_keys,omitempty"`
	ExcludeKeys []string `yaml:"exclude_keys,omitempty"`
}

// Subscription kinds.
const (
	KindState  = "state"
	KindAction = "action"
)

// Subscription is a named subscriber whose deliveries are traced.
type Subscription struct {
	ID string `yaml:"id"`

	// Kind is "state" (default) or "action".
	Kind string `yaml:"kind,omitempty"`

	// Keys limits the subscription to some keys (state) or types (action).
	// Omitted means everything.
	Keys []string `yaml:"keys,omitempty"`

	// FireImmediately requests the subscribe-time call (state only).
	// Off by default so traces only show cycles.
	FireImmediately bool `yaml:"fire_immediately,omitempty"`
}

// Step is one operation. Exactly one field must be set.
type Step struct {
	Set         map[string]any `yaml:"set,omitempty"`
	Toggle      string         `yaml:"toggle,omitempty"`
	Dispatch    *DispatchStep  `yaml:"dispatch,omitempty"`
	Throttle    *ThrottleStep  `yaml:"throttle,omitempty"`
	Advance     string         `yaml:"advance,omitempty"`
	External    map[string]any `yaml:"external,omitempty"`
	Unsubscribe string         `yaml:"unsubscribe,omitempty"`
	Flush       bool           `yaml:"flush,omitempty"`
}

// DispatchStep dispatches an action.
type DispatchStep struct {
	Type string `yaml:"type"`
	Data any    `yaml:"data,omitempty"`
}

// ThrottleStep calls ThrottledSetState.
type ThrottleStep struct {
	Window string         `yaml:"window"`
	Set    map[string]any `yaml:"set"`
}

// Step operation names.
const (
	OpSet         = "set"
	OpToggle      = "toggle"
	OpDispatch    = "dispatch"
	OpThrottle    = "throttle"
	OpAdvance     = "advance"
	OpExternal    = "external"
	OpUnsubscribe = "unsubscribe"
	OpFlush       = "flush"
)

// Op returns the name of the operation the step performs.
func (s Step) Op() (string, error) {
	var ops []string
	if s.Set != nil {
		ops = append(ops, OpSet)
	}
	if s.Toggle != "" {
		ops = append(ops, OpToggle)
	}
	if s.Dispatch != nil {
		ops = append(ops, OpDispatch)
	}
	if s.Throttle != nil {
		ops = append(ops, OpThrottle)
	}
	if s.Advance != "" {
		ops = append(ops, OpAdvance)
	}
	if s.External != nil {
		ops = append(ops, OpExternal)
	}
	if s.Unsubscribe != "" {
		ops = append(ops, OpUnsubscribe)
	}
	if s.Flush {
		ops = append(ops, OpFlush)
	}

	switch len(ops) {
	case 0:
		return "", fmt.Errorf("no operation")
	case 1:
		return ops[0], nil
	default:
		return "", fmt.Errorf("multiple operations %v", ops)
	}
}

// Assertion type constants.
const (
	AssertFinalState    = "final_state"
	AssertPersisted     = "persisted"
	AssertDeliveryCount = "delivery_count"
)

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type is final_state, persisted or delivery_count.
	Type string `yaml:"type"`

	// Expect is the exact expected state (final_state, persisted).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts that no entry is persisted (persisted).
	Absent bool `yaml:"absent,omitempty"`

	// Subscription names the subscriber (delivery_count).
	Subscription string `yaml:"subscription,omitempty"`

	// Count is the expected number of deliveries (delivery_count).
	Count int `yaml:"count,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
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

// validateScenario checks that required fields are present and consistent.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Persistence != nil && s.Persistence.StorageID == "" {
		return fmt.Errorf("persistence: storage_id is required")
	}

	ids := make(map[string]bool, len(s.Subscriptions))
	for i, sub := range s.Subscriptions {
		if sub.ID == "" {
			return fmt.Errorf("subscriptions[%d]: id is required", i)
		}
		if ids[sub.ID] {
			return fmt.Errorf("subscriptions[%d]: duplicate id %q", i, sub.ID)
		}
		ids[sub.ID] = true

		switch sub.Kind {
		case "", KindState:
		case KindAction:
			if sub.FireImmediately {
				return fmt.Errorf("subscriptions[%d]: fire_immediately is only valid for state subscriptions", i)
			}
		default:
			return fmt.Errorf("subscriptions[%d]: unknown kind %q", i, sub.Kind)
		}
	}

	for i, step := range s.Steps {
		op, err := step.Op()
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		switch op {
		case OpDispatch:
			if step.Dispatch.Type == "" {
				return fmt.Errorf("steps[%d]: dispatch type is required", i)
			}
		case OpThrottle:
			if _, err := time.ParseDuration(step.Throttle.Window); err != nil {
				return fmt.Errorf("steps[%d]: invalid throttle window: %w", i, err)
			}
			if step.Throttle.Set == nil {
				return fmt.Errorf("steps[%d]: throttle set is required", i)
			}
		case OpAdvance:
			d, err := time.ParseDuration(step.Advance)
			if err != nil || d < 0 {
				return fmt.Errorf("steps[%d]: invalid advance %q", i, step.Advance)
			}
		case OpExternal:
			if s.Persistence == nil {
				return fmt.Errorf("steps[%d]: external requires persistence", i)
			}
		case OpUnsubscribe:
			if !ids[step.Unsubscribe] {
				return fmt.Errorf("steps[%d]: unknown subscription %q", i, step.Unsubscribe)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, ids); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, ids map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertFinalState:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertPersisted:
		if a.Expect == nil && !a.Absent {
			return fmt.Errorf("assertions[%d]: expect or absent is required for persisted", index)
		}
	case AssertDeliveryCount:
		if !ids[a.Subscription] {
			return fmt.Errorf("assertions[%d]: unknown subscription %q", index, a.Subscription)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

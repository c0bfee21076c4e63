package harness

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/ripple/internal/deep"
)

// evaluateAssertions checks every assertion and records failures on result.
func evaluateAssertions(assertions []Assertion, result *Result) {
	for i, a := range assertions {
		if err := evaluateAssertion(a, result); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d] (%s): %v", i, a.Type, err))
		}
	}
}

func evaluateAssertion(a Assertion, result *Result) error {
	switch a.Type {
	case AssertFinalState:
		return assertStateEqual(a.Expect, result.State)
	case AssertPersisted:
		if a.Absent {
			if result.Persisted != nil {
				return fmt.Errorf("expected no persisted entry, got %s", render(result.Persisted))
			}
			return nil
		}
		if result.Persisted == nil {
			return fmt.Errorf("expected persisted %s, got no entry", render(a.Expect))
		}
		return assertStateEqual(a.Expect, result.Persisted)
	case AssertDeliveryCount:
		if got := result.Deliveries[a.Subscription]; got != a.Count {
			return fmt.Errorf("subscription %q: expected %d deliveries, got %d", a.Subscription, a.Count, got)
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertStateEqual compares states exactly. Numbers compare by value, so a
// YAML integer matches a JSON-decoded float.
func assertStateEqual(expect, got map[string]any) error {
	if expect == nil {
		expect = map[string]any{}
	}
	if deep.Equal(expect, got) {
		return nil
	}
	return fmt.Errorf("expected %s, got %s", render(expect), render(got))
}

func render(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

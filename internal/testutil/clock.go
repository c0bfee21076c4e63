// Package testutil holds helpers shared by tests and the scenario harness.
package testutil

import (
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
)

// Epoch is the fixed start time of every fake clock, so traces that carry
// timestamps are reproducible.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewFakeClock returns a fake clock starting at Epoch.
func NewFakeClock() *fakeclock.FakeClock {
	return fakeclock.NewFakeClock(Epoch)
}

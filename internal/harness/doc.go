// Package harness runs YAML store scenarios and records what subscribers
// observe.
//
// A scenario builds one store (optionally persisted to an in-memory space),
// registers named state and action subscriptions, and executes steps.
// Consecutive steps form one synchronous window until a flush, advance or
// external step closes it, so coalescing behaves exactly as it does for
// library callers. Time only moves on advance steps, which drive a fake
// clock, and external steps write the persisted entry from a second
// context the way another process would.
//
// Every delivery is appended to the trace with a harness sequence number.
// Traces can be compared against golden files with RunWithGolden.
package harness

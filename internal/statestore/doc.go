// Package statestore implements a reactive state container.
//
// A Store holds one flat record (State), merges partial updates into it and
// notifies subscribers once per update cycle, no matter how many updates
// happened in the synchronous window that opened the cycle.
//
// ARCHITECTURE:
//
// Update Cycle:
//  1. SetState merges a partial state and records which keys differ from
//     the last emitted snapshot (KeysChanged).
//  2. The first SetState of a window defers one cycle as a loop microtask.
//  3. The cycle drops keys that returned to their emitted value. If none
//     remain, nothing happens.
//  4. Otherwise the filtered state is persisted, subscribers whose scope
//     intersects the changed keys are called with (state, prev) in
//     registration order, and the emitted snapshot advances.
//
// Snapshots advance before callbacks run, so a SetState issued from inside
// a callback always opens a new cycle instead of joining the current one.
//
// Actions (Dispatch) are a separate synchronous channel and never touch the
// update cycle.
//
// Throttled updates (ThrottledSetState) buffer partial states per window
// duration and flush at most once per window. Every call also writes its
// keys into all other pending buffers so that the most recent value of a key
// wins whichever window flushes first.
//
// Persistence mirrors a filtered subset of the state into a persist.Backend
// and reconciles changes other contexts write to the same entry.
//
// CONCURRENCY:
//
// All methods are safe for concurrent use. Callbacks never run with the
// store lock held: state subscribers, throttle flushes and external changes
// run on the loop goroutine; action subscribers run on the goroutine that
// called Dispatch. Use Batch to group updates from another goroutine into
// one window and wait for the resulting cycle.
package statestore

// Package loop implements the cooperative single-writer task loop that
// drives a state store.
//
// ARCHITECTURE:
//
// One goroutine calls Run and executes everything posted to the loop:
//   - Tasks (Post) run in FIFO order, one at a time.
//   - Microtasks (Defer) run after the task that is currently executing,
//     before the next task is started. A task together with the
//     microtasks it defers is one "synchronous window".
//   - Timers (After) are kept in a min-heap keyed by deadline. Before each
//     task is picked, timers that are due move to the front of the task
//     queue, ahead of every task already queued.
//
// Time comes from an injectable clock.Clock so tests can drive timers
// with fakeclock.
//
// Stopping the loop, through Stop or by cancelling the context passed to
// Run, still runs every task accepted before the stop.
//
// A panicking task is logged and the loop keeps going. Do is the
// synchronous entry point for goroutines outside the loop: it runs a
// function as one window and returns once its microtasks have drained.
package loop

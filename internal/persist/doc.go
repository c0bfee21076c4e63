// Package persist provides the shared key-value stores a state store mirrors
// its filtered state into.
//
// Every Backend is a *handle*: several handles may share one underlying
// space (an in-process map, a bbolt file, a SQLite file opened by several
// processes). Writes made through one handle are announced to watchers on
// every other handle as a Change, but never to watchers on the writing
// handle itself. This mirrors browser storage events, which fire in other
// tabs only, and is what lets a store ignore its own writes.
//
// # Backends
//
//   - MemorySpace: in-process map; handles come from MemorySpace.Handle.
//   - SQLite: one handle per OpenSQLite call. Writes append to a
//     seq-ordered changes log that every handle polls, so handles in
//     different processes see each other's writes.
//   - BoltSpace: a bbolt file shared by in-process handles.
//
// Change fan-out goes through Hub, a docker/go-events broadcaster with one
// filtered, queued sink per watcher.
package persist

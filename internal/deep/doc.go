// Package deep provides structural equality and copying for state values.
//
// State values are arbitrary Go values, usually built from JSON-compatible
// shapes (maps, slices, strings, numbers, booleans) plus time.Time. Values
// that went through a JSON round trip come back with float64 numbers, so
// Equal compares numbers by value regardless of their concrete Go type.
package deep

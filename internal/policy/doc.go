// Package policy implements the routing policy engine: the pure decision
// function that maps an object's attributes to the tier it should be written
// to. Rule ordering is fixed; thresholds and class lists come from
// configuration. The engine performs no I/O and holds no mutable state, so a
// single instance is safe for concurrent use.
package policy

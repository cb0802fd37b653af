// Package types defines the core data structures shared across the tierstore
// system: tier identities and cost profiles, the StoredFile catalog row,
// migration tasks, and budget snapshots. It establishes the contracts between
// the routing policy engine, the storage gateway, the lifecycle optimizer,
// and the budget monitor without importing any of them.
package types

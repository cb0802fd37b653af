// Package catalog implements the metadata catalog: the authoritative record
// of every stored file and where it physically lives. The Store interface is
// backed by Postgres in production (gorm.go) and by an in-memory
// implementation with identical semantics for tests (memory.go); cache.go
// wraps a Store with a Redis read-through cache for point lookups.
//
// Invariants the implementations enforce:
//
//   - access bookkeeping is an atomic in-database increment, never a
//     read-modify-write round trip
//   - placement updates are guarded by the row version; a stale version
//     fails with KindConsistencyConflict and changes nothing
//   - metadata patches cannot touch identity or size fields
package catalog

// Package gateway implements the storage gateway: the single entry point
// for uploads, downloads, signed URLs, deletes, and tier migrations. The
// gateway owns the ordering protocols that keep the backend object stores
// and the metadata catalog consistent:
//
//   - uploads write the object first and the catalog row second, with a
//     compensating backend delete if the row cannot be committed
//   - deletes remove the object first and the row only after the physical
//     delete succeeded
//   - migrations copy to the destination, swap the catalog placement under
//     the version guard, then best-effort delete the source copy; a stale
//     source object is an accepted orphan, a dangling catalog row is not
//
// Access bookkeeping (counters, last-access stamps) is best effort and
// never fails a read path.
package gateway

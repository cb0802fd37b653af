// Package optimizer implements the lifecycle optimizer: a periodic scan of
// the catalog that demotes cold files to the bulk tier, promotes hot files
// back to the fast tier, and sweeps expired files. The optimizer never moves
// bytes itself; it persists migration tasks and publishes them for the
// migration worker. Every decision is re-derivable from the catalog, so a
// lost task costs one scan interval, not correctness.
package optimizer

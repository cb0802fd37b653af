// Package budget implements the budget monitor: periodic estimation of the
// monthly storage spend per tier, classification against the configured
// budget, and advisory recommendations. Estimates come from the static tier
// cost profiles, not provider billing, and snapshots are cached in Redis so
// dashboard polling does not hit the catalog aggregates on every request.
package budget

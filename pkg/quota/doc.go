// Package quota enforces per-plan usage limits.
//
// A PlanTable maps each PlanTier to a Limit per Kind. Unknown tiers resolve
// to the free plan. Limits are either Max(n) or Unlimited; plan files
// written in YAML use an integer, -1, or the word "unlimited".
//
// The Enforcer offers two operations:
//
//	Check    advisory, reads usage and compares it against the limit
//	Reserve  authoritative, atomically increments usage if it stays within
//	         the limit and returns a Reservation that can be released
//
// Reserve closes the race where two concurrent requests both observe
// usage = limit-1 and both proceed: exactly one of them succeeds. Every
// UsageStore (memory, Postgres, Redis) performs the check and increment as
// one step.
//
// Questions are a per-request cap: Reserve compares the request's count to
// the limit and records nothing.
//
// WatchPlans reloads a PlanTable from disk with fsnotify so operators can
// change limits without a restart.
package quota

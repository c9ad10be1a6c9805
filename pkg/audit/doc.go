// Package audit records who was allowed or refused what.
//
// The guard chain writes one event per denial, and the auth service writes
// registration, login and admin events. Sinks:
//
//   - LogrusLogger: JSON lines on any io.Writer
//   - DBLogger: the audit_events table, searchable with Search
//   - MultiLogger: fan-out to several sinks
//   - AsyncLogger: bounded background delivery for slow sinks
//
// FromContext returns a no-op logger when none is configured, so callers
// never need a nil check.
package audit

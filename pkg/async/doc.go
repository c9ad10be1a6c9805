// Package async runs background work with panic recovery and timeouts.
//
// SafeGo is used for work that must outlive the request that started it,
// such as writing the audit event for a released quota reservation.
// WorkerPool bounds asynchronous audit writes so a slow sink cannot grow
// an unbounded goroutine backlog.
package async

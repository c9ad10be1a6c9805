// Package ratelimit limits how often a requester may submit to one
// resource, by default once per survey per day.
//
// A requester is keyed by identity when authenticated and by client IP
// otherwise. Limiter.Check counts the requester's accepted submissions in
// the trailing window and refuses with a rate_limited denial once Max is
// reached. Limiter.Record is called only after a submission succeeds, so
// rejected or failed attempts do not use up the window.
//
// Two stores are provided. MemoryWindowStore is process local. RedisWindowStore
// keeps one sorted set per key and is shared across instances.
//
// The limiter fails open: if the store cannot be read, the submission is
// allowed, a warning is logged and warden_ratelimit_store_errors_total is
// incremented. Expired events are removed by StartPruning on a cron schedule.
package ratelimit

// Package campaign maintains per-campaign delivery and engagement
// aggregates.
//
// Counters are monotonically increasing and incremented atomically on
// the store; the service never holds counts in process, so any number
// of processor instances stay correct. Unique open/click counters
// increment at most once per (subscriber, campaign) pair, enforced by a
// first-seen check against event history. The dedup gate prevents the
// same event from being processed twice; the first-seen check prevents
// legitimately repeated opens from being counted twice.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go.
package campaign

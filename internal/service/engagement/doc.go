// Package engagement implements the subscriber scoring state machine.
//
// One engagement record per subscriber, created lazily on the first
// event that references it. Opens and clicks add score only on the
// first occurrence per message, with per-source contribution caps;
// unsubscribes subtract; spam reports zero the score. The score is
// clamped to [0,100] after every update.
//
// Status transitions are one-way for complained and unsubscribed:
// later opens and clicks still update counters and timestamps but never
// move the subscriber back to active.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. Callers must serialize
// events for the same subscriber; the processor pool shards by
// subscriber to guarantee that.
package engagement

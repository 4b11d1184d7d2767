// Package suppression implements the scoped suppression registry.
//
// This is the single source of truth for whether an address may receive
// mail. Entries flow in from the event processor (hard bounces, spam
// complaints, unsubscribes) and from manual admin actions, each bound
// to a scope: global, one organization, or one campaign. A send-time
// check passes only when no entry matches in any applicable scope.
//
// Entries are append-only. A later suppression never removes an earlier
// one; removal is an explicit administrative action.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package suppression

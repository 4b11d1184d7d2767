// Package httputil provides small helpers for writing JSON HTTP
// responses with consistent envelopes across webhook and API handlers.
package httputil

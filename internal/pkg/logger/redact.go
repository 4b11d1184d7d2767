package logger

import "strings"

// RedactEmail masks the local part of an address so log aggregation
// never stores full recipient identities. The domain is kept because
// per-domain delivery issues are the usual thing being debugged.
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || domain == "" {
		return "***"
	}
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:2] + "***@" + domain
}

package policy

import "regexp"

var (
	userinfoPattern = regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.\-]*://)[^/\s:@]+:[^/\s@]+@`)
	queryPattern    = regexp.MustCompile(`(?i)([?&](?:token|access_token|api[_\-]?key|key|auth|password|secret|sig|signature)=)[^&\s"']+`)
	bearerPattern   = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/\-]+=*`)
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
)

// RedactSecrets masks credentials that commonly leak through CDP addresses
// and engine error text: URL userinfo, token-like query parameters, bearer
// tokens and email addresses.
func RedactSecrets(input string) (redacted string, changed bool) {
	out := input

	// Userinfo first so the email pattern does not eat "user:pass@host".
	next := userinfoPattern.ReplaceAllString(out, "${1}[REDACTED]@")
	changed = changed || next != out
	out = next

	next = queryPattern.ReplaceAllString(out, "${1}[REDACTED]")
	changed = changed || next != out
	out = next

	next = bearerPattern.ReplaceAllString(out, "Bearer [REDACTED]")
	changed = changed || next != out
	out = next

	next = emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	return out, changed
}

// Redact is RedactSecrets without the changed flag.
func Redact(input string) string {
	out, _ := RedactSecrets(input)
	return out
}

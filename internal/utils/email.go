package utils

import "strings"

// NormalizeEmail lowercases and trims an address. Suppression matching and
// uniqueness checks always operate on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ExtractDomainFromEmail returns the lowercased domain part, unwrapping a
// display-name form like "Name <user@domain.com>" first. Returns "" for
// anything that is not a single addr-spec.
func ExtractDomainFromEmail(email string) string {
	email = strings.TrimSpace(email)
	if start := strings.LastIndex(email, "<"); start >= 0 {
		if end := strings.LastIndex(email, ">"); end > start {
			email = email[start+1 : end]
		}
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(email[at+1:]))
}

package db

import (
	"regexp"
	"strings"
)

var (
	kvPairRegex   = regexp.MustCompile(`(?i)\b(host|user|password|dbname|port|sslmode)=`)
	kvPassword    = regexp.MustCompile(`(password=)([^\s]+)`)
	urlCredential = regexp.MustCompile(`(://[^:/@]+:)([^@]+)(@)`)
)

// NormalizeDSN accepts either a URL style DSN (postgres://...) or a lib/pq key=value list.
// It trims quotes and whitespace and, if given key=value form, returns it cleaned.
func NormalizeDSN(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"'")
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return s
	}
	// If it does not look like key=value pairs, return unchanged (driver will error)
	if !kvPairRegex.MatchString(s) {
		return s
	}
	cleaned := strings.Join(strings.Fields(s), " ")
	// Ensure sslmode present (default disable if missing)
	if !strings.Contains(strings.ToLower(cleaned), "sslmode=") {
		cleaned += " sslmode=disable"
	}
	return cleaned
}

// MaskDSN hides the password of a DSN for logging.
func MaskDSN(dsn string) string {
	masked := kvPassword.ReplaceAllString(dsn, `${1}***`)
	return urlCredential.ReplaceAllString(masked, `${1}***${3}`)
}

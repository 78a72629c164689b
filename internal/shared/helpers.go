// Package shared provides common utility functions used across multiple
// packages in the package-mirror codebase.
package shared

import (
	"fmt"
	"strings"
)

// NormalizeID lowercases and trims a package id for use in lookup keys and
// on-disk paths. Package ids compare case-insensitively.
func NormalizeID(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// UniqueIDs trims ids and drops blanks and case-insensitive duplicates,
// keeping the first spelling seen.
func UniqueIDs(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		key := NormalizeID(trimmed)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// HTTPStatusError creates a formatted error for non-2xx HTTP responses.
func HTTPStatusError(status int, url string) error {
	return fmt.Errorf("status=%d url=%s", status, url)
}

// HTTPStatusErrorWithBody creates a formatted error that includes the
// response body for non-2xx HTTP responses.
func HTTPStatusErrorWithBody(status int, url string, body string) error {
	return fmt.Errorf("status=%d url=%s response=%s", status, url, body)
}

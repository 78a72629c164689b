package adapters

import (
	"strings"
	"time"
)

// unlistedYear is the publish year feeds use to mark unlisted packages when
// the listed flag is absent.
const unlistedYear = 1900

func parsePublished(value string) time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.9999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func isUnlistedSentinel(published time.Time) bool {
	return !published.IsZero() && published.Year() == unlistedYear
}

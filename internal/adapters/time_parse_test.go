package adapters

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsePublished(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Time
	}{
		{
			name:     "RFC3339 with offset",
			input:    "2024-03-01T12:30:00+02:00",
			expected: time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			name:     "seven digit fraction",
			input:    "2024-03-01T10:30:00.1234567Z",
			expected: time.Date(2024, 3, 1, 10, 30, 0, 123456700, time.UTC),
		},
		{
			name:     "no timezone",
			input:    "2024-03-01T10:30:00",
			expected: time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC),
		},
		{
			name:     "unlisted sentinel",
			input:    "1900-01-01T00:00:00+00:00",
			expected: time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "whitespace only",
			input:    "   ",
			expected: time.Time{},
		},
		{
			name:     "unparseable returns zero",
			input:    "yesterday",
			expected: time.Time{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePublished(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCatalogEntryListedFromPublished(t *testing.T) {
	tests := []struct {
		name   string
		entry  catalogEntry
		listed bool
	}{
		{name: "explicit listed wins", entry: catalogEntry{Listed: boolPtr(true), Published: "1900-01-01T00:00:00Z"}, listed: true},
		{name: "sentinel without flag", entry: catalogEntry{Published: "1900-01-01T00:00:00Z"}, listed: false},
		{name: "regular publish date", entry: catalogEntry{Published: "2024-03-01T10:30:00Z"}, listed: true},
		{name: "no date", entry: catalogEntry{}, listed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entry.ID = "Widgets.Core"
			tt.entry.Version = "1.0.0"
			manifest, err := tt.entry.manifest()
			if err != nil {
				t.Fatalf("manifest: %v", err)
			}
			assert.Equal(t, tt.listed, manifest.Metadata.Listed)
		})
	}
}

func boolPtr(v bool) *bool { return &v }

package core

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"package-mirror/internal/types"
	"package-mirror/internal/versioning"
)

// BuildManifest groups a feed inventory by package id. Versions are sorted
// newest first and the first non-blank title, summary and description seen
// for an id win. Records are ordered by id.
func BuildManifest(inventory iter.Seq2[types.PackageSearchMetadata, error]) ([]types.OfflinePackageMetadata, error) {
	byID := map[string]*types.OfflinePackageMetadata{}
	for meta, err := range inventory {
		if err != nil {
			return nil, err
		}
		if meta.Identity.Version == nil {
			continue
		}
		key := strings.ToLower(meta.Identity.ID)
		record, ok := byID[key]
		if !ok {
			record = &types.OfflinePackageMetadata{ID: meta.Identity.ID}
			byID[key] = record
		}
		record.Versions = append(record.Versions, *meta.Identity.Version)
		record.Title = firstNonBlank(record.Title, meta.Title)
		record.Summary = firstNonBlank(record.Summary, meta.Summary)
		record.Description = firstNonBlank(record.Description, meta.Description)
	}
	out := make([]types.OfflinePackageMetadata, 0, len(byID))
	for _, record := range byID {
		record.Versions = versioning.Distinct(record.Versions)
		versioning.SortDescending(record.Versions)
		out = append(out, *record)
	}
	sortManifest(out)
	return out, nil
}

// NormalizeManifest validates imported records, merges records that share an
// id and removes duplicate versions.
func NormalizeManifest(records []types.OfflinePackageMetadata) ([]types.OfflinePackageMetadata, error) {
	byID := map[string]*types.OfflinePackageMetadata{}
	order := []string{}
	for i, record := range records {
		id := strings.TrimSpace(record.ID)
		if id == "" {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("manifest entry %d: id is required", i))
		}
		if record.Versions == nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("manifest entry %d (%s): versions is required", i, id))
		}
		key := strings.ToLower(id)
		merged, ok := byID[key]
		if !ok {
			merged = &types.OfflinePackageMetadata{ID: id}
			byID[key] = merged
			order = append(order, key)
		}
		merged.Versions = append(merged.Versions, record.Versions...)
		merged.Title = firstNonBlank(merged.Title, record.Title)
		merged.Summary = firstNonBlank(merged.Summary, record.Summary)
		merged.Description = firstNonBlank(merged.Description, record.Description)
	}
	out := make([]types.OfflinePackageMetadata, 0, len(order))
	for _, key := range order {
		record := byID[key]
		record.Versions = versioning.Distinct(record.Versions)
		versioning.SortDescending(record.Versions)
		out = append(out, *record)
	}
	sortManifest(out)
	return out, nil
}

func sortManifest(records []types.OfflinePackageMetadata) {
	slices.SortFunc(records, func(a, b types.OfflinePackageMetadata) int {
		return cmp.Compare(strings.ToLower(a.ID), strings.ToLower(b.ID))
	})
}

func firstNonBlank(current string, candidate string) string {
	if strings.TrimSpace(current) != "" {
		return current
	}
	return strings.TrimSpace(candidate)
}

package core

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"package-mirror/internal/types"
	"package-mirror/internal/versioning"
)

func inventory(items ...types.PackageSearchMetadata) func(func(types.PackageSearchMetadata, error) bool) {
	return func(yield func(types.PackageSearchMetadata, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func meta(id, version, title, summary string) types.PackageSearchMetadata {
	return types.PackageSearchMetadata{
		Identity: types.NewIdentity(id, versioning.MustParse(version)),
		Title:    title,
		Summary:  summary,
	}
}

func versionStrings(vs []versioning.Version) []string {
	out := []string{}
	for _, v := range vs {
		out = append(out, v.Full())
	}
	return out
}

func TestBuildManifestGroupsAndOrders(t *testing.T) {
	records, err := BuildManifest(inventory(
		meta("zeta", "1.0.0", "", ""),
		meta("Alpha", "1.0.0", "  ", "first summary"),
		meta("alpha", "2.0.0", "Alpha Title", "second summary"),
		meta("Alpha", "1.5.0-beta", "Other Title", ""),
	))
	require.NoError(t, err)
	require.Len(t, records, 2)

	alpha := records[0]
	assert.Equal(t, "Alpha", alpha.ID)
	assert.Equal(t, "Alpha Title", alpha.Title)
	assert.Equal(t, "first summary", alpha.Summary)
	if diff := cmp.Diff([]string{"2.0.0", "1.5.0-beta", "1.0.0"}, versionStrings(alpha.Versions)); diff != "" {
		t.Fatalf("unexpected versions (-want +got):\n%s", diff)
	}
	assert.Equal(t, "zeta", records[1].ID)
}

func TestNormalizeManifestMergesAndDeduplicates(t *testing.T) {
	records, err := NormalizeManifest([]types.OfflinePackageMetadata{
		{ID: "Lib", Versions: []versioning.Version{versioning.MustParse("1.0"), versioning.MustParse("1.0.0")}},
		{ID: "lib", Versions: []versioning.Version{versioning.MustParse("2.0.0")}, Description: "desc"},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Lib", records[0].ID)
	assert.Equal(t, "desc", records[0].Description)
	assert.Equal(t, []string{"2.0.0", "1.0.0"}, versionStrings(records[0].Versions))
}

func TestNormalizeManifestRejectsIncompleteRecords(t *testing.T) {
	tests := []struct {
		name    string
		records []types.OfflinePackageMetadata
	}{
		{name: "blank id", records: []types.OfflinePackageMetadata{{ID: " ", Versions: []versioning.Version{}}}},
		{name: "missing versions", records: []types.OfflinePackageMetadata{{ID: "Lib"}}},
		{name: "missing versions after valid record", records: []types.OfflinePackageMetadata{
			{ID: "Lib", Versions: []versioning.Version{versioning.MustParse("1.0.0")}},
			{ID: "Other", Title: "no versions"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeManifest(tt.records)
			require.Error(t, err)
			assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
		})
	}
}

func TestNormalizeManifestAcceptsEmptyVersions(t *testing.T) {
	records, err := NormalizeManifest([]types.OfflinePackageMetadata{{ID: "Lib", Versions: []versioning.Version{}}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].Versions)
}

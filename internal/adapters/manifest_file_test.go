package adapters

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"package-mirror/internal/types"
	"package-mirror/internal/versioning"
)

func sampleManifest() []types.OfflinePackageMetadata {
	return []types.OfflinePackageMetadata{
		{
			ID:       "Core",
			Versions: []versioning.Version{versioning.MustParse("1.1.0"), versioning.MustParse("1.0.0")},
			Title:    "Core library",
		},
		{
			ID:          "Utils",
			Versions:    []versioning.Version{versioning.MustParse("2.0.0-beta.1")},
			Description: "Helpers",
		},
	}
}

func manifestView(records []types.OfflinePackageMetadata) []string {
	out := []string{}
	for _, record := range records {
		versions := []string{}
		for _, v := range record.Versions {
			versions = append(versions, v.Full())
		}
		out = append(out, record.ID+"|"+strings.Join(versions, ",")+"|"+record.Title+"|"+record.Description)
	}
	return out
}

func TestManifestFileRoundTrip(t *testing.T) {
	for _, name := range []string{"packages.json", "packages.yaml", "nested/dir/packages.yml"} {
		t.Run(name, func(t *testing.T) {
			adapter := NewManifestFileAdapter()
			path := filepath.Join(t.TempDir(), filepath.FromSlash(name))

			require.NoError(t, adapter.WriteManifest(t.Context(), path, sampleManifest()))
			got, err := adapter.ReadManifest(t.Context(), path)
			require.NoError(t, err)

			if diff := cmp.Diff(manifestView(sampleManifest()), manifestView(got)); diff != "" {
				t.Fatalf("unexpected manifest (-want +got):\n%s", diff)
			}
		})
	}
}

func TestManifestFileJSONShape(t *testing.T) {
	adapter := NewManifestFileAdapter()
	path := filepath.Join(t.TempDir(), "packages.json")
	require.NoError(t, adapter.WriteManifest(t.Context(), path, sampleManifest()[:1]))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `"id": "Core"`)
	assert.Contains(t, content, `"1.1.0"`)
	assert.NotContains(t, content, `"summary"`)

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, adapter.WriteManifest(t.Context(), empty, nil))
	data, err = os.ReadFile(empty)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestManifestFileReadErrors(t *testing.T) {
	adapter := NewManifestFileAdapter()
	dir := t.TempDir()
	invalid := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`[{"id":"Core","versions":["not-a-version"]}]`), 0644))

	tests := []struct {
		name     string
		path     string
		wantCode errbuilder.ErrCode
	}{
		{name: "missing file", path: filepath.Join(dir, "missing.json"), wantCode: errbuilder.CodeNotFound},
		{name: "invalid version", path: invalid, wantCode: errbuilder.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := adapter.ReadManifest(t.Context(), tt.path)
			require.Error(t, err)
			if diff := cmp.Diff(tt.wantCode, errbuilder.CodeOf(err)); diff != "" {
				t.Fatalf("unexpected error code (-want +got):\n%s", diff)
			}
		})
	}

	err := adapter.WriteManifest(t.Context(), " ", nil)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}
